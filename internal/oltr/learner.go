// Package oltr implements online learning to rank by simulation: a learner
// repeatedly presents rankings for sampled training queries, turns simulated
// clicks into training examples, and refits a ranker on everything observed
// so far under an explore-then-exploit schedule.
package oltr

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/ricesearch/oltr-sim/internal/clickmodel"
	"github.com/ricesearch/oltr-sim/internal/evaluation"
	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
	"github.com/ricesearch/oltr-sim/internal/pkg/logger"
	"github.com/ricesearch/oltr-sim/internal/queryset"
	"github.com/ricesearch/oltr-sim/internal/ranker"
	"github.com/ricesearch/oltr-sim/internal/ranking"
)

// Batch is the training data derived from one query's feedback.
type Batch struct {
	QueryID int `json:"query_id"`
	// Rows are global row indices into the training feature matrix, in
	// presentation order, up to and including the last click.
	Rows []int `json:"rows"`
	// Labels are 1 for clicked rows and 0 otherwise.
	Labels []int `json:"labels"`
	Size   int   `json:"size"`
}

// Options configures a Learner.
type Options struct {
	Name    string
	Data    queryset.Collections
	Trainer ranker.Trainer
	// ExploreIterations is the number of initial retraining rounds that
	// collect feedback on random permutations. Zero is Follow-the-Leader.
	ExploreIterations int
	// Seed and Stream select the learner's private random stream.
	Seed   uint64
	Stream uint64
	Logger *logger.Logger
}

// Learner owns an observed training history and the schedule that decides
// which ranker collects the next round of feedback. A Learner is not safe
// for concurrent use.
type Learner struct {
	name              string
	data              queryset.Collections
	trainer           ranker.Trainer
	exploreIterations int
	rng               *rand.Rand
	evaluator         *evaluation.Evaluator
	log               *logger.Logger

	history       []Batch
	historyRows   int
	lastCollected int
	iteration     int
}

// New creates a learner with an empty history.
func New(opts Options) (*Learner, error) {
	if opts.Data.Train == nil {
		return nil, errors.ConfigurationError("learner needs a train collection")
	}
	if opts.Trainer == nil {
		return nil, errors.ConfigurationError("learner needs a trainer")
	}
	if opts.ExploreIterations < 0 {
		return nil, errors.ValidationError("explore iterations must not be negative")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	rng := ranking.NewSource(opts.Seed, opts.Stream)
	return &Learner{
		name:              opts.Name,
		data:              opts.Data,
		trainer:           opts.Trainer,
		exploreIterations: opts.ExploreIterations,
		rng:               rng,
		evaluator:         evaluation.NewEvaluator(rng),
		log:               log.WithLearner(opts.Name),
	}, nil
}

// Name returns the learner's name.
func (l *Learner) Name() string { return l.name }

// Iteration returns the number of completed retraining calls.
func (l *Learner) Iteration() int { return l.iteration }

// ExploreIterations returns the exploration threshold.
func (l *Learner) ExploreIterations() int { return l.exploreIterations }

// Policy returns the policy the next feedback round will use.
func (l *Learner) Policy() Policy {
	return SelectPolicy(l.iteration, l.exploreIterations)
}

// History returns the observed batches in collection order. The batches
// share storage with the learner and must not be modified.
func (l *Learner) History() []Batch { return slices.Clone(l.history) }

// HistoryRows returns the number of training rows observed so far.
func (l *Learner) HistoryRows() int { return l.historyRows }

// SampleQueryIDs draws n query ids with replacement from a collection.
func (l *Learner) SampleQueryIDs(n int, c queryset.Collection) ([]int, error) {
	qs, err := l.data.Resolve(c)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, errors.ValidationError(fmt.Sprintf("cannot sample %d queries", n))
	}
	return ranking.SampleWithReplacement(l.rng, n, qs.NumQueries()), nil
}

// UpdateLearner collects one round of feedback with the policy-selected
// ranker and returns a ranker refit on the entire history. On error the
// caller should keep its current ranker.
func (l *Learner) UpdateLearner(ctx context.Context, current ranker.Ranker, numQueries int, cm clickmodel.ClickModel, cfg ranker.TrainingConfig) (ranker.Ranker, error) {
	r := current
	if l.Policy() == Explore {
		r = nil
	}
	if err := l.CollectFeedback(r, numQueries, cm); err != nil {
		return nil, err
	}
	return l.Retrain(ctx, cfg)
}

// Retrain fits a fresh ranker on every batch observed so far and advances
// the schedule by one iteration.
func (l *Learner) Retrain(ctx context.Context, cfg ranker.TrainingConfig) (ranker.Ranker, error) {
	if len(l.history) == 0 {
		return nil, errors.ConfigurationError("feedback must be collected before retraining")
	}
	train, err := l.trainingSet()
	if err != nil {
		return nil, err
	}

	var valid *ranker.Dataset
	if cfg.UseValidation() {
		v, err := l.validationSet(l.lastCollected)
		if err != nil {
			return nil, fmt.Errorf("sampling validation queries: %w", err)
		}
		valid = &v
	}

	start := time.Now()
	r, err := l.trainer.Fit(ctx, train, valid, cfg)
	if err != nil {
		return nil, err
	}
	l.iteration++

	l.log.Debug("Ranker retrained",
		"iteration", l.iteration,
		"rows", len(train.Labels),
		"queries", len(train.Groups),
		"validation", valid != nil,
		"duration", time.Since(start),
	)
	return r, nil
}

// trainingSet concatenates the history in collection order.
func (l *Learner) trainingSet() (ranker.Dataset, error) {
	rows := make([]int, 0, l.historyRows)
	labels := make([]int, 0, l.historyRows)
	groups := make([]int, 0, len(l.history))
	for _, b := range l.history {
		rows = append(rows, b.Rows...)
		labels = append(labels, b.Labels...)
		groups = append(groups, b.Size)
	}
	features, err := l.data.Train.Rows(rows)
	if err != nil {
		return ranker.Dataset{}, err
	}
	return ranker.Dataset{Features: features, Labels: labels, Groups: groups}, nil
}

// validationSet samples n held-out queries with their full relevance labels.
func (l *Learner) validationSet(n int) (ranker.Dataset, error) {
	ids, err := l.SampleQueryIDs(n, queryset.Valid)
	if err != nil {
		return ranker.Dataset{}, err
	}
	sub, err := l.data.Valid.Subset(ids)
	if err != nil {
		return ranker.Dataset{}, err
	}
	groups := make([]int, sub.NumQueries())
	for qid := range groups {
		groups[qid] = sub.DocumentCount(qid)
	}
	return ranker.Dataset{Features: sub.FeatureMatrix(), Labels: sub.Labels(), Groups: groups}, nil
}

// Evaluate scores r on a collection, or on the given queries of it, and
// returns the mean metric value. Tie-breakers come from the learner's stream.
func (l *Learner) Evaluate(r ranker.Ranker, metric evaluation.Metric, cutoff int, queryIDs []int, c queryset.Collection) (float64, error) {
	qs, err := l.data.Resolve(c)
	if err != nil {
		return 0, err
	}
	if r == nil {
		return 0, errors.ConfigurationError("no ranker to evaluate")
	}
	return l.evaluator.Evaluate(r, qs, metric, cutoff, queryIDs)
}
