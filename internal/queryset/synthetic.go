package queryset

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
)

// GenerateOptions describes a synthetic collection.
type GenerateOptions struct {
	Queries      int
	MinDocuments int
	MaxDocuments int
	Features     int
	// MaxGrade is the highest relevance label (4 for MSLR-style data).
	MaxGrade int
	// Noise is the standard deviation added to the latent relevance.
	Noise float64
	// Weights is the hidden linear relevance model. Collections meant to be
	// used together must share it; nil draws a fresh one.
	Weights []float64
}

// SyntheticWeights draws a hidden relevance model for Generate.
func SyntheticWeights(rng *rand.Rand, features int) []float64 {
	w := make([]float64, features)
	for i := range w {
		w[i] = rng.NormFloat64()
	}
	return w
}

// Generate builds a collection whose labels are a noisy, quantised linear
// function of standard-normal features.
func Generate(rng *rand.Rand, opts GenerateOptions) (*QuerySet, error) {
	if opts.Queries < 1 || opts.Features < 1 {
		return nil, errors.ValidationError("synthetic collection needs at least one query and one feature")
	}
	if opts.MinDocuments < 1 || opts.MaxDocuments < opts.MinDocuments {
		return nil, errors.ValidationError("synthetic document counts must satisfy 1 <= min <= max")
	}
	if opts.MaxGrade < 1 {
		opts.MaxGrade = 1
	}
	w := opts.Weights
	if w == nil {
		w = SyntheticWeights(rng, opts.Features)
	}
	if len(w) != opts.Features {
		return nil, errors.ValidationError("synthetic weights do not match feature count")
	}
	norm := math.Sqrt(floats.Dot(w, w))
	if norm == 0 {
		norm = 1
	}

	indptr := make([]int, 1, opts.Queries+1)
	for q := 0; q < opts.Queries; q++ {
		n := opts.MinDocuments + rng.IntN(opts.MaxDocuments-opts.MinDocuments+1)
		indptr = append(indptr, indptr[q]+n)
	}
	rows := indptr[opts.Queries]

	features := mat.NewDense(rows, opts.Features, nil)
	labels := make([]int, rows)
	x := make([]float64, opts.Features)
	grades := float64(opts.MaxGrade + 1)
	for i := 0; i < rows; i++ {
		for j := range x {
			x[j] = rng.NormFloat64()
		}
		features.SetRow(i, x)
		latent := floats.Dot(x, w)/norm + opts.Noise*rng.NormFloat64()
		// latent is roughly N(0, 1+noise^2); map [-2, 2] onto the grades.
		g := int(math.Floor((latent + 2) / 4 * grades))
		labels[i] = min(max(g, 0), opts.MaxGrade)
	}
	return New(features, labels, indptr, nil)
}
