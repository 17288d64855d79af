// Package ranker defines the trainable scorer consumed by the online learner
// and provides a linear implementation.
package ranker

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
)

// Ranker scores every row of a feature matrix.
type Ranker interface {
	Predict(features mat.Matrix) ([]float64, error)
}

// Dataset is a grouped training set. Rows of Features are grouped
// contiguously by query in the order given by Groups.
type Dataset struct {
	Features mat.Matrix
	Labels   []int
	Groups   []int
}

// Validate checks that rows, labels and group sizes line up.
func (d Dataset) Validate() error {
	if d.Features == nil {
		return errors.ValidationError("dataset has no features")
	}
	rows, _ := d.Features.Dims()
	if len(d.Labels) != rows {
		return errors.DataInconsistencyError(
			fmt.Sprintf("dataset has %d labels for %d rows", len(d.Labels), rows))
	}
	total := 0
	for i, g := range d.Groups {
		if g < 1 {
			return errors.DataInconsistencyError(fmt.Sprintf("group %d has size %d", i, g))
		}
		total += g
	}
	if total != rows {
		return errors.DataInconsistencyError(
			fmt.Sprintf("group sizes sum to %d, dataset has %d rows", total, rows))
	}
	return nil
}

// TrainingConfig carries the trainer's hyperparameters.
type TrainingConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
	Epochs       int     `yaml:"epochs"`
	L2           float64 `yaml:"l2"`
	// EarlyStoppingRounds > 0 requests a held-out validation set; training
	// stops after that many epochs without improvement.
	EarlyStoppingRounds int `yaml:"early_stopping_rounds"`
	// EvalAt is the NDCG cutoff used on the validation set.
	EvalAt int `yaml:"eval_at"`
	// Seed drives pair shuffling.
	Seed uint64 `yaml:"seed"`
	// Verbose logs validation progress every Verbose epochs; zero disables it.
	Verbose int `yaml:"verbose"`
}

// UseValidation reports whether a validation dataset should be supplied.
func (c TrainingConfig) UseValidation() bool {
	return c.EarlyStoppingRounds > 0
}

// Validate checks the hyperparameters.
func (c TrainingConfig) Validate() error {
	if c.LearningRate <= 0 {
		return errors.ValidationError("learning_rate must be positive")
	}
	if c.Epochs < 1 {
		return errors.ValidationError("epochs must be positive")
	}
	if c.L2 < 0 {
		return errors.ValidationError("l2 must not be negative")
	}
	if c.EarlyStoppingRounds < 0 {
		return errors.ValidationError("early_stopping_rounds must not be negative")
	}
	return nil
}

// Trainer fits a fresh ranker from scratch. valid is nil when no validation
// split was requested.
type Trainer interface {
	Fit(ctx context.Context, train Dataset, valid *Dataset, cfg TrainingConfig) (Ranker, error)
}

// TrainerFunc adapts a function to the Trainer interface.
type TrainerFunc func(ctx context.Context, train Dataset, valid *Dataset, cfg TrainingConfig) (Ranker, error)

// Fit calls f.
func (f TrainerFunc) Fit(ctx context.Context, train Dataset, valid *Dataset, cfg TrainingConfig) (Ranker, error) {
	return f(ctx, train, valid, cfg)
}

// Func adapts a scoring function to the Ranker interface.
type Func func(features mat.Matrix) ([]float64, error)

// Predict calls f.
func (f Func) Predict(features mat.Matrix) ([]float64, error) { return f(features) }
