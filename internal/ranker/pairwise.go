package ranker

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ricesearch/oltr-sim/internal/evaluation"
	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
	"github.com/ricesearch/oltr-sim/internal/pkg/logger"
	"github.com/ricesearch/oltr-sim/internal/ranking"
)

// PairwiseTrainer fits a LinearRanker with stochastic gradient descent on the
// RankNet logistic pairwise loss. Pairs are formed within each group from
// documents whose labels differ.
type PairwiseTrainer struct {
	log *logger.Logger
}

// NewPairwiseTrainer creates a new trainer.
func NewPairwiseTrainer(log *logger.Logger) *PairwiseTrainer {
	if log == nil {
		log = logger.Discard()
	}
	return &PairwiseTrainer{log: log}
}

type pair struct {
	better, worse int
}

// Fit implements Trainer.
func (t *PairwiseTrainer) Fit(ctx context.Context, train Dataset, valid *Dataset, cfg TrainingConfig) (Ranker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := train.Validate(); err != nil {
		return nil, err
	}
	if valid != nil {
		if err := valid.Validate(); err != nil {
			return nil, fmt.Errorf("validation set: %w", err)
		}
	}

	rows, cols := train.Features.Dims()
	x := make([][]float64, rows)
	for i := range x {
		x[i] = mat.Row(nil, i, train.Features)
	}
	pairs := buildPairs(train.Labels, train.Groups)

	w := make([]float64, cols)
	if len(pairs) == 0 {
		t.log.Debug("No preference pairs in training data, returning zero model", "rows", rows)
		return NewLinearRanker(w, 0), nil
	}

	rng := ranking.NewSource(cfg.Seed, 0)
	diff := make([]float64, cols)
	best := NewLinearRanker(w, 0)
	bestScore := math.Inf(-1)
	stale := 0

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.CodeTimeout, "training cancelled", err)
		}

		rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
		for _, p := range pairs {
			floats.SubTo(diff, x[p.better], x[p.worse])
			s := floats.Dot(w, diff)
			// d/dw log(1+exp(-s)) = -sigmoid(-s) * diff
			g := 1 / (1 + math.Exp(s))
			if cfg.L2 > 0 {
				floats.Scale(1-cfg.LearningRate*cfg.L2, w)
			}
			floats.AddScaled(w, cfg.LearningRate*g, diff)
		}
		if floats.HasNaN(w) {
			return nil, errors.CollaboratorError("pairwise trainer",
				fmt.Errorf("weights diverged at epoch %d", epoch))
		}

		if valid == nil || !cfg.UseValidation() {
			continue
		}
		score, err := validationNDCG(NewLinearRanker(w, 0), *valid, cfg.EvalAt)
		if err != nil {
			return nil, err
		}
		if cfg.Verbose > 0 && epoch%cfg.Verbose == 0 {
			t.log.Debug("Validation progress", "epoch", epoch, "ndcg", score, "eval_at", cfg.EvalAt)
		}
		if score > bestScore {
			bestScore = score
			best = NewLinearRanker(w, 0)
			stale = 0
			continue
		}
		stale++
		if stale >= cfg.EarlyStoppingRounds {
			t.log.Debug("Early stopping", "epoch", epoch, "best_ndcg", bestScore)
			return best, nil
		}
	}

	if valid != nil && cfg.UseValidation() {
		return best, nil
	}
	return NewLinearRanker(w, 0), nil
}

func buildPairs(labels, groups []int) []pair {
	var pairs []pair
	start := 0
	for _, size := range groups {
		for i := start; i < start+size; i++ {
			for j := start; j < start+size; j++ {
				if labels[i] > labels[j] {
					pairs = append(pairs, pair{better: i, worse: j})
				}
			}
		}
		start += size
	}
	return pairs
}

// validationNDCG is the mean NDCG@k of r over the groups of d. Ties keep
// document order so that the score is deterministic.
func validationNDCG(r Ranker, d Dataset, k int) (float64, error) {
	scores, err := r.Predict(d.Features)
	if err != nil {
		return 0, err
	}
	if len(d.Groups) == 0 {
		return 0, nil
	}
	zeros := make([]float64, len(scores))
	sum := 0.0
	start := 0
	for _, size := range d.Groups {
		end := start + size
		order := ranking.RankWithTieBreakers(scores[start:end], zeros[start:end])
		sum += evaluation.NDCG(ranking.Reorder(d.Labels[start:end], order), k)
		start = end
	}
	return sum / float64(len(d.Groups)), nil
}
