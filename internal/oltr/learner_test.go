package oltr

import (
	"context"
	stderrors "errors"
	"math"
	"slices"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/ricesearch/oltr-sim/internal/clickmodel"
	"github.com/ricesearch/oltr-sim/internal/evaluation"
	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
	"github.com/ricesearch/oltr-sim/internal/queryset"
	"github.com/ricesearch/oltr-sim/internal/ranker"
	"github.com/ricesearch/oltr-sim/internal/ranking"
)

// twoQueries has two queries with 2 and 3 documents. Feature 0 equals the
// relevance grade so that a ranker scoring by feature 0 is perfect.
func twoQueries(t *testing.T) *queryset.QuerySet {
	t.Helper()
	features := mat.NewDense(5, 2, []float64{
		0, 0.3,
		1, 0.1,
		2, 0.5,
		0, 0.9,
		1, 0.7,
	})
	qs, err := queryset.New(features, []int{0, 1, 2, 0, 1}, []int{0, 2, 5}, []string{"q1", "q2"})
	if err != nil {
		t.Fatalf("queryset.New() error = %v", err)
	}
	return qs
}

func byFeature0() ranker.Ranker {
	return ranker.NewLinearRanker([]float64{1, 0}, 0)
}

func clickPositions(positions ...int) clickmodel.ClickModel {
	return clickmodel.Func(func(relevance []int) ([]bool, error) {
		clicks := make([]bool, len(relevance))
		for _, p := range positions {
			if p < len(clicks) {
				clicks[p] = true
			}
		}
		return clicks, nil
	})
}

type recordingTrainer struct {
	calls int
	train ranker.Dataset
	valid *ranker.Dataset
	err   error
	model ranker.Ranker
}

func (r *recordingTrainer) Fit(_ context.Context, train ranker.Dataset, valid *ranker.Dataset, _ ranker.TrainingConfig) (ranker.Ranker, error) {
	r.calls++
	r.train = train
	r.valid = valid
	if r.err != nil {
		return nil, r.err
	}
	if r.model != nil {
		return r.model, nil
	}
	return byFeature0(), nil
}

func newLearner(t *testing.T, data queryset.Collections, trainer ranker.Trainer, explore int) *Learner {
	t.Helper()
	if trainer == nil {
		trainer = &recordingTrainer{}
	}
	l, err := New(Options{
		Name:              "test",
		Data:              data,
		Trainer:           trainer,
		ExploreIterations: explore,
		Seed:              7,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

func checkBatch(t *testing.T, qs *queryset.QuerySet, b Batch) {
	t.Helper()
	if len(b.Rows) != b.Size || len(b.Labels) != b.Size {
		t.Fatalf("batch %+v: rows, labels and size disagree", b)
	}
	if b.Size < 1 || b.Size > qs.DocumentCount(b.QueryID) {
		t.Fatalf("batch %+v: size out of range", b)
	}
	start, end := qs.RowRange(b.QueryID)
	for _, row := range b.Rows {
		if row < start || row >= end {
			t.Fatalf("batch %+v: row %d outside [%d,%d)", b, row, start, end)
		}
	}
}

func TestSelectPolicy(t *testing.T) {
	tests := []struct {
		iteration, threshold int
		want                 Policy
	}{
		{0, 0, Exploit},
		{5, 0, Exploit},
		{0, 1, Explore},
		{1, 1, Exploit},
		{2, 3, Explore},
		{3, 3, Exploit},
	}
	for _, tt := range tests {
		if got := SelectPolicy(tt.iteration, tt.threshold); got != tt.want {
			t.Errorf("SelectPolicy(%d, %d) = %v, want %v", tt.iteration, tt.threshold, got, tt.want)
		}
	}
}

func TestNew_Invalid(t *testing.T) {
	train := twoQueries(t)
	trainer := &recordingTrainer{}
	if _, err := New(Options{Trainer: trainer}); !errors.IsConfiguration(err) {
		t.Errorf("New(no train) error = %v, want configuration", err)
	}
	if _, err := New(Options{Data: queryset.Collections{Train: train}}); !errors.IsConfiguration(err) {
		t.Errorf("New(no trainer) error = %v, want configuration", err)
	}
	if _, err := New(Options{Data: queryset.Collections{Train: train}, Trainer: trainer, ExploreIterations: -1}); !errors.IsValidation(err) {
		t.Errorf("New(negative explore) error = %v, want validation", err)
	}
}

func TestCollectFeedback_FirstPositionClicked(t *testing.T) {
	train := twoQueries(t)
	l := newLearner(t, queryset.Collections{Train: train}, nil, 1)

	if err := l.CollectFeedback(nil, 2, clickPositions(0)); err != nil {
		t.Fatalf("CollectFeedback() error = %v", err)
	}
	history := l.History()
	if len(history) != 2 {
		t.Fatalf("len(History()) = %d, want 2", len(history))
	}
	for _, b := range history {
		checkBatch(t, train, b)
		if b.Size != 1 || b.Labels[0] != 1 {
			t.Errorf("batch = %+v, want one clicked row", b)
		}
	}
	if l.HistoryRows() != 2 {
		t.Errorf("HistoryRows() = %d, want 2", l.HistoryRows())
	}
}

func TestCollectFeedback_NoClicksKeepsWholeList(t *testing.T) {
	train := twoQueries(t)
	l := newLearner(t, queryset.Collections{Train: train}, nil, 0)

	if err := l.CollectFeedback(nil, 6, clickPositions()); err != nil {
		t.Fatalf("CollectFeedback() error = %v", err)
	}
	for _, b := range l.History() {
		checkBatch(t, train, b)
		if b.Size != train.DocumentCount(b.QueryID) {
			t.Errorf("batch %+v: size = %d, want the full list", b, b.Size)
		}
		if slices.Contains(b.Labels, 1) {
			t.Errorf("batch %+v has a positive label without clicks", b)
		}
		sorted := slices.Sorted(slices.Values(b.Rows))
		start, _ := train.RowRange(b.QueryID)
		for i, row := range sorted {
			if row != start+i {
				t.Fatalf("batch %+v: rows are not a permutation of the query", b)
			}
		}
	}
}

func TestCollectFeedback_LastClickTruncates(t *testing.T) {
	train := twoQueries(t)
	l := newLearner(t, queryset.Collections{Train: train}, nil, 0)

	if err := l.CollectFeedback(byFeature0(), 8, clickPositions(1)); err != nil {
		t.Fatalf("CollectFeedback() error = %v", err)
	}
	for _, b := range l.History() {
		checkBatch(t, train, b)
		if b.Size != 2 || !slices.Equal(b.Labels, []int{0, 1}) {
			t.Errorf("batch = %+v, want two rows labelled [0 1]", b)
		}
	}
}

func TestCollectFeedback_ExploitFollowsRanker(t *testing.T) {
	train := twoQueries(t)
	l := newLearner(t, queryset.Collections{Train: train}, nil, 0)

	if err := l.CollectFeedback(byFeature0(), 10, clickPositions(0, 1, 2)); err != nil {
		t.Fatalf("CollectFeedback() error = %v", err)
	}
	want := map[int][]int{0: {1, 0}, 1: {2, 4, 3}}
	for _, b := range l.History() {
		if !slices.Equal(b.Rows, want[b.QueryID]) {
			t.Errorf("query %d rows = %v, want %v", b.QueryID, b.Rows, want[b.QueryID])
		}
	}
}

func TestCollectFeedback_HistoryAccumulates(t *testing.T) {
	train := twoQueries(t)
	l := newLearner(t, queryset.Collections{Train: train}, nil, 0)

	total := 0
	for _, n := range []int{2, 3, 1} {
		if err := l.CollectFeedback(nil, n, clickPositions(0)); err != nil {
			t.Fatalf("CollectFeedback(%d) error = %v", n, err)
		}
		total += n
		if got := len(l.History()); got != total {
			t.Fatalf("len(History()) = %d, want %d", got, total)
		}
	}
}

func TestCollectFeedback_Deterministic(t *testing.T) {
	train := twoQueries(t)
	a := newLearner(t, queryset.Collections{Train: train}, nil, 0)
	b := newLearner(t, queryset.Collections{Train: train}, nil, 0)

	for _, l := range []*Learner{a, b} {
		if err := l.CollectFeedback(nil, 5, clickPositions(1)); err != nil {
			t.Fatalf("CollectFeedback() error = %v", err)
		}
	}
	ha, hb := a.History(), b.History()
	for i := range ha {
		if ha[i].QueryID != hb[i].QueryID || !slices.Equal(ha[i].Rows, hb[i].Rows) {
			t.Fatalf("batch %d differs: %+v vs %+v", i, ha[i], hb[i])
		}
	}
}

func TestCollectFeedback_CollaboratorFailureKeepsEarlierBatches(t *testing.T) {
	train := twoQueries(t)
	l := newLearner(t, queryset.Collections{Train: train}, nil, 0)

	boom := stderrors.New("click model down")
	calls := 0
	cm := clickmodel.Func(func(relevance []int) ([]bool, error) {
		calls++
		if calls == 2 {
			return nil, boom
		}
		return make([]bool, len(relevance)), nil
	})

	err := l.CollectFeedback(nil, 3, cm)
	if !stderrors.Is(err, boom) {
		t.Fatalf("CollectFeedback() error = %v, want %v", err, boom)
	}
	if got := len(l.History()); got != 1 {
		t.Errorf("len(History()) = %d, want 1", got)
	}
}

func TestCollectFeedback_BadCollaborators(t *testing.T) {
	train := twoQueries(t)
	l := newLearner(t, queryset.Collections{Train: train}, nil, 0)

	short := ranker.Func(func(mat.Matrix) ([]float64, error) { return []float64{1}, nil })
	if err := l.CollectFeedback(short, 1, clickPositions(0)); !errors.IsCollaborator(err) {
		t.Errorf("CollectFeedback(short scores) error = %v, want collaborator failure", err)
	}

	truncated := clickmodel.Func(func([]int) ([]bool, error) { return []bool{true}, nil })
	if err := l.CollectFeedback(nil, 4, truncated); !errors.IsCollaborator(err) {
		t.Errorf("CollectFeedback(short clicks) error = %v, want collaborator failure", err)
	}

	if err := l.CollectFeedback(nil, 1, nil); !errors.IsConfiguration(err) {
		t.Errorf("CollectFeedback(nil click model) error = %v, want configuration", err)
	}
	if err := l.CollectFeedback(nil, 0, clickPositions(0)); !errors.IsValidation(err) {
		t.Errorf("CollectFeedback(0 queries) error = %v, want validation", err)
	}
}

func TestRemap_OutOfRange(t *testing.T) {
	train := twoQueries(t)
	if _, err := remap(train, 0, []int{2}, []bool{true}); !errors.IsDataInconsistency(err) {
		t.Errorf("remap() error = %v, want data inconsistency", err)
	}
	b, err := remap(train, 1, []int{2, 0}, []bool{false, true})
	if err != nil {
		t.Fatalf("remap() error = %v", err)
	}
	if !slices.Equal(b.Rows, []int{4, 2}) || !slices.Equal(b.Labels, []int{0, 1}) {
		t.Errorf("remap() = %+v, want rows [4 2] labels [0 1]", b)
	}
}

func TestRetrain_EmptyHistory(t *testing.T) {
	trainer := &recordingTrainer{}
	l := newLearner(t, queryset.Collections{Train: twoQueries(t)}, trainer, 0)

	if _, err := l.Retrain(context.Background(), ranker.TrainingConfig{LearningRate: 0.1, Epochs: 1}); !errors.IsConfiguration(err) {
		t.Fatalf("Retrain() error = %v, want configuration", err)
	}
	if trainer.calls != 0 || l.Iteration() != 0 {
		t.Errorf("calls = %d, iteration = %d, want no training", trainer.calls, l.Iteration())
	}
}

func TestRetrain_TrainsOnWholeHistory(t *testing.T) {
	train := twoQueries(t)
	trainer := &recordingTrainer{}
	l := newLearner(t, queryset.Collections{Train: train}, trainer, 0)

	for _, n := range []int{2, 3} {
		if err := l.CollectFeedback(nil, n, clickPositions(1)); err != nil {
			t.Fatalf("CollectFeedback() error = %v", err)
		}
	}
	if _, err := l.Retrain(context.Background(), ranker.TrainingConfig{LearningRate: 0.1, Epochs: 1}); err != nil {
		t.Fatalf("Retrain() error = %v", err)
	}

	history := l.History()
	var labels, groups []int
	for _, b := range history {
		labels = append(labels, b.Labels...)
		groups = append(groups, b.Size)
	}
	if !slices.Equal(trainer.train.Groups, groups) || !slices.Equal(trainer.train.Labels, labels) {
		t.Errorf("trained on groups %v labels %v, want %v %v",
			trainer.train.Groups, trainer.train.Labels, groups, labels)
	}
	rows, _ := trainer.train.Features.Dims()
	if rows != len(labels) {
		t.Errorf("feature rows = %d, want %d", rows, len(labels))
	}
	if got := trainer.train.Features.At(0, 0); got != train.FeatureMatrix().At(history[0].Rows[0], 0) {
		t.Errorf("first training row does not match the first observed row")
	}
	if trainer.valid != nil {
		t.Error("validation set passed without early stopping")
	}
	if l.Iteration() != 1 {
		t.Errorf("Iteration() = %d, want 1", l.Iteration())
	}
}

func TestRetrain_SamplesValidationQueries(t *testing.T) {
	train, valid := twoQueries(t), twoQueries(t)
	trainer := &recordingTrainer{}
	l := newLearner(t, queryset.Collections{Train: train, Valid: valid}, trainer, 0)
	cfg := ranker.TrainingConfig{LearningRate: 0.1, Epochs: 1, EarlyStoppingRounds: 2, EvalAt: 5}

	if err := l.CollectFeedback(nil, 4, clickPositions(0)); err != nil {
		t.Fatalf("CollectFeedback() error = %v", err)
	}
	if _, err := l.Retrain(context.Background(), cfg); err != nil {
		t.Fatalf("Retrain() error = %v", err)
	}
	if trainer.valid == nil {
		t.Fatal("no validation set passed with early stopping")
	}
	if len(trainer.valid.Groups) != 4 {
		t.Errorf("validation queries = %d, want 4", len(trainer.valid.Groups))
	}
	if err := trainer.valid.Validate(); err != nil {
		t.Errorf("validation set invalid: %v", err)
	}

	noValid := newLearner(t, queryset.Collections{Train: train}, trainer, 0)
	if err := noValid.CollectFeedback(nil, 1, clickPositions(0)); err != nil {
		t.Fatalf("CollectFeedback() error = %v", err)
	}
	if _, err := noValid.Retrain(context.Background(), cfg); !errors.IsConfiguration(err) {
		t.Errorf("Retrain(no valid collection) error = %v, want configuration", err)
	}
}

type countingRanker struct {
	calls int
}

func (c *countingRanker) Predict(features mat.Matrix) ([]float64, error) {
	c.calls++
	n, _ := features.Dims()
	return make([]float64, n), nil
}

func TestUpdateLearner_ExploreThenExploit(t *testing.T) {
	train := twoQueries(t)
	current := &countingRanker{}
	l := newLearner(t, queryset.Collections{Train: train}, &recordingTrainer{model: current}, 2)
	cfg := ranker.TrainingConfig{LearningRate: 0.1, Epochs: 1}

	wantCalls := []int{0, 0, 3, 6}
	for i, want := range wantCalls {
		if _, err := l.UpdateLearner(context.Background(), current, 3, clickPositions(0), cfg); err != nil {
			t.Fatalf("UpdateLearner() round %d error = %v", i, err)
		}
		if current.calls != want {
			t.Errorf("round %d: ranker used %d times, want %d", i, current.calls, want)
		}
		if l.Iteration() != i+1 {
			t.Errorf("round %d: Iteration() = %d, want %d", i, l.Iteration(), i+1)
		}
	}
}

func TestUpdateLearner_FollowTheLeader(t *testing.T) {
	current := &countingRanker{}
	l := newLearner(t, queryset.Collections{Train: twoQueries(t)}, nil, 0)

	if l.Policy() != Exploit {
		t.Fatalf("Policy() = %v, want exploit", l.Policy())
	}
	if _, err := l.UpdateLearner(context.Background(), current, 2, clickPositions(0), ranker.TrainingConfig{LearningRate: 0.1, Epochs: 1}); err != nil {
		t.Fatalf("UpdateLearner() error = %v", err)
	}
	if current.calls != 2 {
		t.Errorf("ranker used %d times, want 2", current.calls)
	}
}

func TestUpdateLearner_TrainerFailure(t *testing.T) {
	boom := stderrors.New("fit failed")
	l := newLearner(t, queryset.Collections{Train: twoQueries(t)}, &recordingTrainer{err: boom}, 1)

	r, err := l.UpdateLearner(context.Background(), nil, 2, clickPositions(0), ranker.TrainingConfig{LearningRate: 0.1, Epochs: 1})
	if !stderrors.Is(err, boom) || r != nil {
		t.Fatalf("UpdateLearner() = %v, %v, want nil, %v", r, err, boom)
	}
	if l.Iteration() != 0 || l.Policy() != Explore {
		t.Errorf("Iteration() = %d, want the schedule unchanged", l.Iteration())
	}
	if len(l.History()) != 2 {
		t.Errorf("len(History()) = %d, want collected feedback kept", len(l.History()))
	}
}

func TestUpdateLearner_PairwiseTrainer(t *testing.T) {
	rng := ranking.NewSource(3, 0)
	data, err := queryset.Generate(rng, queryset.GenerateOptions{
		Queries: 20, MinDocuments: 4, MaxDocuments: 8, Features: 4, MaxGrade: 4,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	cm, err := clickmodel.NewDependentClickModel("perfect", ranking.NewSource(3, 1))
	if err != nil {
		t.Fatalf("NewDependentClickModel() error = %v", err)
	}
	l := newLearner(t, queryset.Collections{Train: data, Valid: data, Test: data}, ranker.NewPairwiseTrainer(nil), 1)
	cfg := ranker.TrainingConfig{LearningRate: 0.05, Epochs: 10, EarlyStoppingRounds: 3, EvalAt: 5, Seed: 1}

	var current ranker.Ranker
	for i := 0; i < 3; i++ {
		next, err := l.UpdateLearner(context.Background(), current, 5, cm, cfg)
		if err != nil {
			t.Fatalf("UpdateLearner() round %d error = %v", i, err)
		}
		current = next
	}
	score, err := l.Evaluate(current, evaluation.NDCG, 10, nil, queryset.Test)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if score < 0 || score > 1 || math.IsNaN(score) {
		t.Errorf("Evaluate() = %v, want a value in [0,1]", score)
	}
}

func TestEvaluate(t *testing.T) {
	test := twoQueries(t)
	l := newLearner(t, queryset.Collections{Train: twoQueries(t), Test: test}, nil, 0)

	score, err := l.Evaluate(byFeature0(), evaluation.NDCG, 0, nil, queryset.Test)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if math.Abs(score-1) > 1e-12 {
		t.Errorf("Evaluate(perfect ranker) = %v, want 1", score)
	}

	score, err = l.Evaluate(byFeature0(), evaluation.NDCG, 0, []int{1, 1}, queryset.Test)
	if err != nil || math.Abs(score-1) > 1e-12 {
		t.Errorf("Evaluate(subset) = %v, %v, want 1", score, err)
	}

	if _, err := l.Evaluate(nil, evaluation.NDCG, 10, nil, queryset.Test); !errors.IsConfiguration(err) {
		t.Errorf("Evaluate(nil ranker) error = %v, want configuration", err)
	}
	if _, err := l.Evaluate(byFeature0(), evaluation.NDCG, 10, nil, queryset.Valid); !errors.IsConfiguration(err) {
		t.Errorf("Evaluate(missing collection) error = %v, want configuration", err)
	}
}
