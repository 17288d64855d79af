package ranker

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
)

// LinearRanker scores a document as Bias + Weights·x.
type LinearRanker struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// NewLinearRanker copies weights into a new ranker.
func NewLinearRanker(weights []float64, bias float64) *LinearRanker {
	w := make([]float64, len(weights))
	copy(w, weights)
	return &LinearRanker{Weights: w, Bias: bias}
}

// UniformLinear weights every feature equally. It is the untrained linear
// baseline.
func UniformLinear(numFeatures int) *LinearRanker {
	w := make([]float64, numFeatures)
	for i := range w {
		w[i] = 1 / math.Sqrt(float64(numFeatures))
	}
	return &LinearRanker{Weights: w}
}

// Predict implements Ranker.
func (r *LinearRanker) Predict(features mat.Matrix) ([]float64, error) {
	rows, cols := features.Dims()
	if cols != len(r.Weights) {
		return nil, errors.CollaboratorError("linear ranker",
			fmt.Errorf("matrix has %d features, model has %d weights", cols, len(r.Weights)))
	}
	var out mat.VecDense
	out.MulVec(features, mat.NewVecDense(len(r.Weights), r.Weights))
	scores := make([]float64, rows)
	for i := range scores {
		scores[i] = out.AtVec(i) + r.Bias
	}
	return scores, nil
}
