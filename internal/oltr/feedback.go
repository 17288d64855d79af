package oltr

import (
	"fmt"
	"strconv"

	"github.com/ricesearch/oltr-sim/internal/clickmodel"
	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
	"github.com/ricesearch/oltr-sim/internal/queryset"
	"github.com/ricesearch/oltr-sim/internal/ranker"
	"github.com/ricesearch/oltr-sim/internal/ranking"
)

// CollectFeedback samples numQueries training queries, ranks each with r (or
// a random permutation when r is nil), simulates clicks and appends one
// Batch per query to the history.
//
// Each query is an independent unit of work: if a collaborator fails on a
// query, batches already appended by this call stay in the history and the
// collaborator's error is returned unchanged.
func (l *Learner) CollectFeedback(r ranker.Ranker, numQueries int, cm clickmodel.ClickModel) error {
	if cm == nil {
		return errors.ConfigurationError("no click model configured")
	}
	ids, err := l.SampleQueryIDs(numQueries, queryset.Train)
	if err != nil {
		return err
	}
	l.lastCollected = numQueries

	policy := Exploit
	if r == nil {
		policy = Explore
	}
	rows := 0
	for _, qid := range ids {
		b, err := l.feedback(r, qid, cm)
		if err != nil {
			return err
		}
		l.history = append(l.history, b)
		l.historyRows += b.Size
		rows += b.Size
	}

	l.log.Debug("Feedback collected",
		"policy", policy.String(),
		"queries", numQueries,
		"rows", rows,
		"history_batches", len(l.history),
	)
	return nil
}

func (l *Learner) feedback(r ranker.Ranker, qid int, cm clickmodel.ClickModel) (Batch, error) {
	train := l.data.Train
	order, err := l.rank(r, qid)
	if err != nil {
		return Batch{}, err
	}

	clicks, err := cm.Simulate(ranking.Reorder(train.Relevance(qid), order))
	if err != nil {
		return Batch{}, err
	}
	if len(clicks) != len(order) {
		return Batch{}, errors.CollaboratorError("click model", fmt.Errorf(
			"returned %d clicks for %d positions", len(clicks), len(order)))
	}

	t := ranking.Cutoff(clicks)
	return remap(train, qid, order[:t], clicks[:t])
}

// rank returns the presentation order of a query's documents.
func (l *Learner) rank(r ranker.Ranker, qid int) ([]int, error) {
	train := l.data.Train
	n := train.DocumentCount(qid)
	if r == nil {
		return ranking.Permutation(l.rng, n), nil
	}
	scores, err := r.Predict(train.Features(qid))
	if err != nil {
		return nil, err
	}
	if len(scores) != n {
		return nil, errors.CollaboratorError("ranker", fmt.Errorf(
			"predicted %d scores for %d documents", len(scores), n))
	}
	return ranking.RankByScores(l.rng, scores), nil
}

// remap turns query-local ranked positions into global rows of the training
// matrix.
func remap(qs *queryset.QuerySet, qid int, order []int, clicks []bool) (Batch, error) {
	start, end := qs.RowRange(qid)
	b := Batch{
		QueryID: qid,
		Rows:    make([]int, len(order)),
		Labels:  make([]int, len(order)),
		Size:    len(order),
	}
	for i, local := range order {
		row := start + local
		if row < start || row >= end {
			return Batch{}, errors.DataInconsistencyError("remapped row outside query range").
				WithDetail("qid", strconv.Itoa(qid)).
				WithDetail("row", strconv.Itoa(row)).
				WithDetail("range", fmt.Sprintf("[%d,%d)", start, end))
		}
		b.Rows[i] = row
		if clicks[i] {
			b.Labels[i] = 1
		}
	}
	return b, nil
}
