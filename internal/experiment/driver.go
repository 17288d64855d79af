// Package experiment runs online learners and offline baselines side by side
// and records how each ranker performs on held-out queries.
package experiment

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/ricesearch/oltr-sim/internal/bus"
	"github.com/ricesearch/oltr-sim/internal/clickmodel"
	"github.com/ricesearch/oltr-sim/internal/config"
	"github.com/ricesearch/oltr-sim/internal/evaluation"
	"github.com/ricesearch/oltr-sim/internal/oltr"
	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
	"github.com/ricesearch/oltr-sim/internal/pkg/logger"
	"github.com/ricesearch/oltr-sim/internal/queryset"
	"github.com/ricesearch/oltr-sim/internal/ranker"
	"github.com/ricesearch/oltr-sim/internal/ranking"
	"github.com/ricesearch/oltr-sim/internal/results"
)

// Baseline names.
const (
	BaselineLinear       = "Linear"
	BaselineOffline      = "Offline"
	BaselineClickOffline = "Click Offline"
)

// Options configures a Driver.
type Options struct {
	Config *config.Config
	Data   queryset.Collections
	// Trainer defaults to the pairwise trainer.
	Trainer ranker.Trainer
	// Store defaults to an in-memory store.
	Store results.Store
	// Bus is optional.
	Bus    bus.Bus
	Logger *logger.Logger
}

// Driver runs one experiment. A Driver is not safe for concurrent use and
// runs at most once.
type Driver struct {
	cfg      *config.Config
	runID    string
	data     queryset.Collections
	trainer  ranker.Trainer
	trainCfg ranker.TrainingConfig
	metric   evaluation.Metric
	// heldOut is the collection rankers are scored on.
	heldOut    queryset.Collection
	heldOutSet *queryset.QuerySet

	store results.Store
	bus   bus.Bus
	log   *logger.Logger

	rng       *rand.Rand
	evaluator *evaluation.Evaluator

	learners  []*onlineLearner
	baselines []baseline
}

type onlineLearner struct {
	learner  *oltr.Learner
	users    clickmodel.ClickModel
	ranker   ranker.Ranker
	failures int
}

type baseline struct {
	name   string
	ranker ranker.Ranker
}

// New validates the options and builds the learner roster.
func New(opts Options) (*Driver, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.ConfigurationError("driver needs a configuration")
	}
	if opts.Data.Train == nil || opts.Data.Test == nil {
		return nil, errors.ConfigurationError("driver needs train and test collections")
	}
	metric, err := evaluation.MetricByName(cfg.Eval.Metric)
	if err != nil {
		return nil, err
	}
	collection := cfg.Eval.Collection
	if collection == "" {
		collection = queryset.Test.String()
	}
	heldOut, err := queryset.ParseCollection(collection)
	if err != nil {
		return nil, err
	}
	heldOutSet, err := opts.Data.Resolve(heldOut)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	trainer := opts.Trainer
	if trainer == nil {
		trainer = ranker.NewPairwiseTrainer(log)
	}
	store := opts.Store
	if store == nil {
		store = results.NewMemoryStore()
	}
	runID := cfg.Experiment.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	seed := cfg.Experiment.Seed
	rng := ranking.NewSource(seed, streamDriver)
	d := &Driver{
		cfg:     cfg,
		runID:   runID,
		data:    opts.Data,
		trainer: trainer,
		trainCfg: ranker.TrainingConfig{
			LearningRate:        cfg.Ranker.LearningRate,
			Epochs:              cfg.Ranker.Epochs,
			L2:                  cfg.Ranker.L2,
			EarlyStoppingRounds: cfg.Ranker.EarlyStoppingRounds,
			EvalAt:              cfg.Ranker.EvalAt,
			Seed:                seed,
			Verbose:             cfg.Ranker.Verbose,
		},
		metric:     metric,
		heldOut:    heldOut,
		heldOutSet: heldOutSet,
		store:      store,
		bus:        opts.Bus,
		log:        log,
		rng:        rng,
		evaluator:  evaluation.NewEvaluator(rng),
	}
	if err := d.trainCfg.Validate(); err != nil {
		return nil, err
	}

	type roster struct {
		name    string
		explore int
	}
	var members []roster
	if cfg.Experiment.FollowTheLeader {
		members = append(members, roster{"FTL", 0})
	}
	for _, k := range cfg.ExploreThresholds() {
		members = append(members, roster{fmt.Sprintf("EtE %d", k), k})
	}
	if len(members) == 0 {
		return nil, errors.ConfigurationError("no online learners configured")
	}

	for i, m := range members {
		stream := streamLearners + 2*uint64(i)
		l, err := oltr.New(oltr.Options{
			Name:              m.name,
			Data:              opts.Data,
			Trainer:           trainer,
			ExploreIterations: m.explore,
			Seed:              seed,
			Stream:            stream,
			Logger:            log,
		})
		if err != nil {
			return nil, fmt.Errorf("creating learner %s: %w", m.name, err)
		}
		users, err := clickmodel.NewDependentClickModel(cfg.ClickModel.UserType, ranking.NewSource(seed, stream+1))
		if err != nil {
			return nil, err
		}
		d.learners = append(d.learners, &onlineLearner{learner: l, users: users})
	}

	return d, nil
}

// RunID returns the id events and stored results are tagged with.
func (d *Driver) RunID() string { return d.runID }

// Learners returns the online learner names in roster order.
func (d *Driver) Learners() []string {
	names := make([]string, len(d.learners))
	for i, ol := range d.learners {
		names[i] = ol.learner.Name()
	}
	return names
}

// Run trains the baselines and then alternates learner updates with
// held-out evaluation for the configured number of iterations. A context
// deadline surfaces as a timeout error.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	report, err := d.run(ctx)
	if err != nil && stderrors.Is(err, context.DeadlineExceeded) {
		return nil, errors.TimeoutError("run " + d.runID)
	}
	return report, err
}

func (d *Driver) run(ctx context.Context) (*Report, error) {
	ctx = context.WithValue(ctx, logger.RunIDKey, d.runID)
	log := d.log.WithContext(ctx)
	started := time.Now()
	exp := d.cfg.Experiment

	if exp.Baselines {
		if err := d.trainBaselines(ctx); err != nil {
			return nil, fmt.Errorf("training baselines: %w", err)
		}
	}

	d.publish(ctx, bus.TopicRunStarted, "driver", bus.RunStarted{
		RunID:      d.runID,
		Learners:   d.Learners(),
		Baselines:  d.baselineNames(),
		Iterations: exp.Iterations,
		Metric:     d.cfg.Eval.Metric,
		Cutoff:     d.cfg.Eval.Cutoff,
	})
	log.Info("Starting run",
		"learners", len(d.learners),
		"baselines", len(d.baselines),
		"iterations", exp.Iterations,
		"collection", d.heldOut.String(),
	)

	var final map[string]float64
	for it := 0; it < exp.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, ol := range d.learners {
			if err := d.update(ctx, ol, it); err != nil {
				if ctx.Err() != nil || !exp.ContinueOnError {
					return nil, err
				}
				log.WithError(err).Warn("Skipping learner for this iteration", "learner", ol.learner.Name())
			}
		}

		values, err := d.evaluate(ctx, it)
		if err != nil {
			return nil, err
		}
		final = values

		d.publish(ctx, bus.TopicIterationEvaluated, "driver", bus.IterationEvaluated{
			Iteration: it,
			Metric:    d.cfg.Eval.Metric,
			Cutoff:    d.cfg.Eval.Cutoff,
			Values:    values,
		})

		args := []any{"iteration", it}
		for _, name := range append(d.Learners(), d.baselineNames()...) {
			if v, ok := values[name]; ok {
				args = append(args, name, v)
			}
		}
		log.Info("Iteration evaluated", args...)
	}

	series, err := d.store.Series(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}

	finished := time.Now()
	d.publish(ctx, bus.TopicRunCompleted, "driver", bus.RunCompleted{
		RunID:      d.runID,
		Iterations: exp.Iterations,
		DurationMs: finished.Sub(started).Milliseconds(),
		Final:      final,
	})

	report := &Report{
		RunID:        d.runID,
		Metric:       d.cfg.Eval.Metric,
		Cutoff:       d.cfg.Eval.Cutoff,
		Iterations:   exp.Iterations,
		TrainQueries: exp.TrainQueries,
		TestQueries:  exp.TestQueries,
		Seed:         exp.Seed,
		Baselines:    d.baselineNames(),
		Series:       series,
		StartedAt:    started,
		FinishedAt:   finished,
	}
	for _, ol := range d.learners {
		report.Learners = append(report.Learners, LearnerSummary{
			Name:              ol.learner.Name(),
			ExploreIterations: ol.learner.ExploreIterations(),
			Iterations:        ol.learner.Iteration(),
			HistoryBatches:    len(ol.learner.History()),
			HistoryRows:       ol.learner.HistoryRows(),
			Failures:          ol.failures,
		})
	}

	log.Info("Run completed", "duration", finished.Sub(started))
	return report, nil
}

// update runs one feedback round and retrain for a learner. The learner
// keeps its previous ranker when the update fails.
func (d *Driver) update(ctx context.Context, ol *onlineLearner, iteration int) error {
	l := ol.learner
	policy := l.Policy()
	batches := len(l.History())
	rows := l.HistoryRows()

	start := time.Now()
	r, err := l.UpdateLearner(ctx, ol.ranker, d.cfg.Experiment.TrainQueries, ol.users, d.trainCfg)
	elapsed := time.Since(start)

	d.publish(ctx, bus.TopicFeedbackCollected, l.Name(), bus.FeedbackCollected{
		Learner:     l.Name(),
		Iteration:   iteration,
		Policy:      policy.String(),
		Queries:     len(l.History()) - batches,
		Rows:        l.HistoryRows() - rows,
		HistoryRows: l.HistoryRows(),
	})

	trained := bus.RankerTrained{
		Learner:   l.Name(),
		Iteration: l.Iteration(),
		Duration:  elapsed,
	}
	if err != nil {
		trained.Error = err.Error()
	}
	d.publish(ctx, bus.TopicRankerTrained, l.Name(), trained)

	if err != nil {
		ol.failures++
		return fmt.Errorf("learner %s iteration %d: %w", l.Name(), iteration, err)
	}
	ol.ranker = r
	return nil
}

// evaluate scores every trained ranker on one sample of held-out queries
// and appends the values to the results store.
func (d *Driver) evaluate(ctx context.Context, iteration int) (map[string]float64, error) {
	ids := ranking.SampleWithReplacement(d.rng, d.cfg.Experiment.TestQueries, d.heldOutSet.NumQueries())
	cutoff := d.cfg.Eval.Cutoff
	values := make(map[string]float64, len(d.learners)+len(d.baselines))

	for _, ol := range d.learners {
		if ol.ranker == nil {
			continue
		}
		v, err := ol.learner.Evaluate(ol.ranker, d.metric, cutoff, ids, d.heldOut)
		if err != nil {
			if !d.cfg.Experiment.ContinueOnError {
				return nil, fmt.Errorf("evaluating %s: %w", ol.learner.Name(), err)
			}
			d.log.WithError(err).Warn("Skipping evaluation", "learner", ol.learner.Name())
			continue
		}
		values[ol.learner.Name()] = v
	}
	for _, b := range d.baselines {
		v, err := d.evaluator.Evaluate(b.ranker, d.heldOutSet, d.metric, cutoff, ids)
		if err != nil {
			return nil, fmt.Errorf("evaluating %s: %w", b.name, err)
		}
		values[b.name] = v
	}

	for name, v := range values {
		if err := d.store.Append(ctx, name, results.Point{Iteration: iteration, Value: v}); err != nil {
			return nil, fmt.Errorf("storing %s result: %w", name, err)
		}
	}
	return values, nil
}

// trainBaselines fits the offline reference rankers once.
func (d *Driver) trainBaselines(ctx context.Context) error {
	train := d.data.Train
	d.baselines = append(d.baselines, baseline{BaselineLinear, ranker.UniformLinear(train.NumFeatures())})

	var valid *ranker.Dataset
	if d.trainCfg.UseValidation() {
		if d.data.Valid == nil {
			return errors.ConfigurationError("early stopping needs a valid collection")
		}
		v := fullDataset(d.data.Valid)
		valid = &v
	}
	offline, err := d.trainer.Fit(ctx, fullDataset(train), valid, d.trainCfg)
	if err != nil {
		return fmt.Errorf("%s: %w", BaselineOffline, err)
	}
	d.baselines = append(d.baselines, baseline{BaselineOffline, offline})

	// One exploration round over the budget the online learners receive
	// across the whole run.
	l, err := oltr.New(oltr.Options{
		Name:              BaselineClickOffline,
		Data:              d.data,
		Trainer:           d.trainer,
		ExploreIterations: 1,
		Seed:              d.cfg.Experiment.Seed,
		Stream:            streamClickOffline,
		Logger:            d.log,
	})
	if err != nil {
		return err
	}
	users, err := clickmodel.NewDependentClickModel(d.cfg.ClickModel.UserType,
		ranking.NewSource(d.cfg.Experiment.Seed, streamClickOfflineUsers))
	if err != nil {
		return err
	}
	budget := d.cfg.Experiment.Iterations * d.cfg.Experiment.TrainQueries
	clickOffline, err := l.UpdateLearner(ctx, nil, budget, users, d.trainCfg)
	if err != nil {
		return fmt.Errorf("%s: %w", BaselineClickOffline, err)
	}
	d.baselines = append(d.baselines, baseline{BaselineClickOffline, clickOffline})

	d.log.Debug("Baselines trained", "count", len(d.baselines), "click_queries", budget)
	return nil
}

func (d *Driver) baselineNames() []string {
	names := make([]string, len(d.baselines))
	for i, b := range d.baselines {
		names[i] = b.name
	}
	return names
}

// publish sends an event on the bus. Delivery failures are logged and do
// not stop the run.
func (d *Driver) publish(ctx context.Context, topic, source string, payload any) {
	if d.bus == nil {
		return
	}
	err := d.bus.Publish(ctx, topic, bus.NewEvent(topic, source, d.runID, payload))
	if err != nil && !stderrors.Is(err, context.Canceled) {
		d.log.WithError(err).Warn("Failed to publish event", "topic", topic)
	}
}

// fullDataset exposes a whole collection with its graded labels.
func fullDataset(qs *queryset.QuerySet) ranker.Dataset {
	groups := make([]int, qs.NumQueries())
	for qid := range groups {
		groups[qid] = qs.DocumentCount(qid)
	}
	return ranker.Dataset{Features: qs.FeatureMatrix(), Labels: qs.Labels(), Groups: groups}
}
