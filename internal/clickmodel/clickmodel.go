// Package clickmodel simulates users scanning a result list top to bottom
// and clicking on documents according to their relevance.
package clickmodel

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
)

// ClickModel turns relevance labels, given in display order, into a click
// vector of the same length.
type ClickModel interface {
	Simulate(relevance []int) ([]bool, error)
}

// Func adapts a function to the ClickModel interface.
type Func func(relevance []int) ([]bool, error)

// Simulate calls f.
func (f Func) Simulate(relevance []int) ([]bool, error) { return f(relevance) }

// UserType holds per-grade click and stop probabilities. Index i applies to
// relevance grade i; grades above the last index use the last entry.
type UserType struct {
	Click []float64
	Stop  []float64
}

// Presets for five-grade (0..4) relevance.
var Presets = map[string]UserType{
	"perfect": {
		Click: []float64{0.0, 0.2, 0.4, 0.8, 1.0},
		Stop:  []float64{0.0, 0.0, 0.0, 0.0, 0.0},
	},
	"navigational": {
		Click: []float64{0.05, 0.3, 0.5, 0.7, 0.95},
		Stop:  []float64{0.2, 0.3, 0.5, 0.7, 0.9},
	},
	"informational": {
		Click: []float64{0.4, 0.6, 0.7, 0.8, 0.9},
		Stop:  []float64{0.1, 0.2, 0.3, 0.4, 0.5},
	},
	"pure_cascade": {
		Click: []float64{0.0, 0.2, 0.4, 0.8, 1.0},
		Stop:  []float64{1.0, 1.0, 1.0, 1.0, 1.0},
	},
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependentClickModel examines positions in order. At each position it
// clicks with the document's click probability; after a click it stops with
// the document's stop probability. Without a click it moves on.
type DependentClickModel struct {
	user UserType
	rng  *rand.Rand
}

// NewDependentClickModel returns a click model for a named preset.
func NewDependentClickModel(userType string, rng *rand.Rand) (*DependentClickModel, error) {
	user, ok := Presets[userType]
	if !ok {
		return nil, errors.ValidationError(
			fmt.Sprintf("unknown click model user type %q (must be one of %v)", userType, PresetNames()))
	}
	return NewWithUserType(user, rng)
}

// NewWithUserType returns a click model with explicit probabilities.
func NewWithUserType(user UserType, rng *rand.Rand) (*DependentClickModel, error) {
	if len(user.Click) == 0 || len(user.Click) != len(user.Stop) {
		return nil, errors.ValidationError("click and stop probabilities must be non-empty and of equal length")
	}
	for i := range user.Click {
		if !isProbability(user.Click[i]) || !isProbability(user.Stop[i]) {
			return nil, errors.ValidationError(fmt.Sprintf("probabilities for grade %d outside [0,1]", i))
		}
	}
	if rng == nil {
		return nil, errors.ValidationError("click model needs a random source")
	}
	return &DependentClickModel{user: user, rng: rng}, nil
}

func isProbability(p float64) bool { return p >= 0 && p <= 1 }

// Simulate implements ClickModel.
func (m *DependentClickModel) Simulate(relevance []int) ([]bool, error) {
	clicks := make([]bool, len(relevance))
	last := len(m.user.Click) - 1
	for i, rel := range relevance {
		if rel < 0 {
			return nil, errors.CollaboratorError("click model",
				fmt.Errorf("negative relevance %d at position %d", rel, i))
		}
		g := min(rel, last)
		if m.rng.Float64() >= m.user.Click[g] {
			continue
		}
		clicks[i] = true
		if m.rng.Float64() < m.user.Stop[g] {
			break
		}
	}
	return clicks, nil
}
