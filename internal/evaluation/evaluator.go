package evaluation

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
	"github.com/ricesearch/oltr-sim/internal/queryset"
	"github.com/ricesearch/oltr-sim/internal/ranking"
)

// Scorer assigns a score to every row of a feature matrix.
type Scorer interface {
	Predict(features mat.Matrix) ([]float64, error)
}

// Evaluator ranks held-out queries with a scorer and averages a metric over
// them. Ties in score are broken with draws from the evaluator's own stream.
type Evaluator struct {
	rng *rand.Rand
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(rng *rand.Rand) *Evaluator {
	return &Evaluator{rng: rng}
}

// Evaluate returns the mean metric value over the selected queries of qs.
// A nil queryIDs selects the whole collection.
func (e *Evaluator) Evaluate(s Scorer, qs *queryset.QuerySet, metric Metric, cutoff int, queryIDs []int) (float64, error) {
	report, err := e.EvaluateReport(s, qs, metric, cutoff, queryIDs)
	if err != nil {
		return 0, err
	}
	return report.Mean, nil
}

// EvaluateReport is Evaluate with per-query values.
func (e *Evaluator) EvaluateReport(s Scorer, qs *queryset.QuerySet, metric Metric, cutoff int, queryIDs []int) (*Report, error) {
	if s == nil {
		return nil, errors.ConfigurationError("no ranker to evaluate")
	}
	if metric == nil {
		return nil, errors.ConfigurationError("no metric configured")
	}

	target := qs
	if queryIDs != nil {
		sub, err := qs.Subset(queryIDs)
		if err != nil {
			return nil, err
		}
		target = sub
	}

	scores, err := s.Predict(target.FeatureMatrix())
	if err != nil {
		return nil, err
	}
	if len(scores) != target.NumDocuments() {
		return nil, errors.CollaboratorError("ranker", fmt.Errorf(
			"predicted %d scores for %d documents", len(scores), target.NumDocuments()))
	}
	tie := ranking.TieBreakers(e.rng, len(scores))

	report := &Report{
		Cutoff:     cutoff,
		QueryCount: target.NumQueries(),
		Results:    make([]QueryResult, target.NumQueries()),
	}
	sum := 0.0
	for qid := 0; qid < target.NumQueries(); qid++ {
		start, end := target.RowRange(qid)
		order := ranking.RankWithTieBreakers(scores[start:end], tie[start:end])
		value := metric(ranking.Reorder(target.Relevance(qid), order), cutoff)
		report.Results[qid] = QueryResult{
			QueryID:   target.QueryID(qid),
			Documents: end - start,
			Value:     value,
		}
		sum += value
	}
	report.Mean = sum / float64(target.NumQueries())
	return report, nil
}
