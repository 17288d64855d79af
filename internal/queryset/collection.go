package queryset

import (
	"fmt"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
)

// Collection selects one of the three query collections of an experiment.
type Collection int

const (
	Train Collection = iota
	Valid
	Test
)

func (c Collection) String() string {
	switch c {
	case Train:
		return "train"
	case Valid:
		return "valid"
	case Test:
		return "test"
	default:
		return fmt.Sprintf("collection(%d)", int(c))
	}
}

// ParseCollection parses "train", "valid" or "test".
func ParseCollection(s string) (Collection, error) {
	switch s {
	case "train":
		return Train, nil
	case "valid", "vali", "validation":
		return Valid, nil
	case "test":
		return Test, nil
	default:
		return 0, errors.ValidationError(fmt.Sprintf("unknown collection %q (must be train, valid or test)", s))
	}
}

// Collections groups the training, held-out validation and test collections.
// Valid and Test may be nil.
type Collections struct {
	Train *QuerySet
	Valid *QuerySet
	Test  *QuerySet
}

// Resolve returns the collection selected by c.
func (cs Collections) Resolve(c Collection) (*QuerySet, error) {
	var qs *QuerySet
	switch c {
	case Train:
		qs = cs.Train
	case Valid:
		qs = cs.Valid
	case Test:
		qs = cs.Test
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown collection %d", int(c)))
	}
	if qs == nil {
		return nil, errors.ConfigurationError(fmt.Sprintf("%s collection not loaded", c))
	}
	return qs, nil
}

// Preprocess drops the training collection's constant features from every
// loaded collection and min-max scales the remaining columns. It runs once,
// before any training or evaluation use, and returns the removed columns.
func (cs Collections) Preprocess() ([]int, error) {
	if cs.Train == nil {
		return nil, errors.ConfigurationError("train collection not loaded")
	}
	width := cs.Train.NumFeatures()
	constant := FindConstantFeatures(cs.Train)
	for _, c := range []Collection{Train, Valid, Test} {
		qs, err := cs.Resolve(c)
		if err != nil {
			continue
		}
		if qs.NumFeatures() != width {
			return nil, errors.DataInconsistencyError(
				fmt.Sprintf("%s collection has %d features, train has %d", c, qs.NumFeatures(), width))
		}
		if err := qs.Adjust(AdjustOptions{RemoveFeatures: constant, Scale: true}); err != nil {
			return nil, fmt.Errorf("adjusting %s collection: %w", c, err)
		}
	}
	return constant, nil
}
