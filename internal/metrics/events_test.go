package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ricesearch/oltr-sim/internal/bus"
)

func publishAll(t *testing.T, b bus.Bus, events ...bus.Event) {
	t.Helper()
	for _, e := range events {
		if err := b.Publish(context.Background(), e.Type, e); err != nil {
			t.Fatalf("Publish(%s) error = %v", e.Type, err)
		}
	}
}

func TestEventSubscriber(t *testing.T) {
	m := New("oltr")
	b := bus.NewMemoryBus(nil)
	if err := NewEventSubscriber(m, b).SubscribeToEvents(context.Background()); err != nil {
		t.Fatalf("SubscribeToEvents() error = %v", err)
	}

	publishAll(t, b,
		bus.NewEvent(bus.TopicFeedbackCollected, "FTL", "run-1", bus.FeedbackCollected{
			Learner: "FTL", Iteration: 0, Queries: 5, Rows: 30, HistoryRows: 30,
		}),
		bus.NewEvent(bus.TopicFeedbackCollected, "FTL", "run-1", bus.FeedbackCollected{
			Learner: "FTL", Iteration: 1, Queries: 5, Rows: 20, HistoryRows: 50,
		}),
		bus.NewEvent(bus.TopicRankerTrained, "FTL", "run-1", bus.RankerTrained{
			Learner: "FTL", Iteration: 1, Duration: 15 * time.Millisecond,
		}),
		bus.NewEvent(bus.TopicRankerTrained, "FTL", "run-1", bus.RankerTrained{
			Learner: "FTL", Iteration: 2, Duration: 3 * time.Millisecond, Error: "trainer failed",
		}),
		bus.NewEvent(bus.TopicIterationEvaluated, "driver", "run-1", bus.IterationEvaluated{
			Iteration: 1, Values: map[string]float64{"FTL": 0.6, "Linear": 0.4},
		}),
		bus.NewEvent(bus.TopicIterationEvaluated, "driver", "run-1", bus.IterationEvaluated{
			Iteration: 0, Values: map[string]float64{"FTL": 0.1, "Linear": 0.4},
		}),
	)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := testutil.ToFloat64(m.FeedbackQueries.WithLabelValues("FTL")); got != 10 {
		t.Errorf("feedback queries = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.FeedbackRows.WithLabelValues("FTL")); got != 50 {
		t.Errorf("feedback rows = %v, want 50", got)
	}
	if got := testutil.ToFloat64(m.HistoryRows.WithLabelValues("FTL")); got != 50 {
		t.Errorf("history rows = %v, want 50", got)
	}
	if got := testutil.ToFloat64(m.RetrainErrors.WithLabelValues("FTL")); got != 1 {
		t.Errorf("retrain errors = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.RetrainDuration); got != 1 {
		t.Errorf("retrain duration series = %d, want 1", got)
	}

	// The stale iteration 0 event must not roll the gauges back.
	if got := testutil.ToFloat64(m.Iteration); got != 2 {
		t.Errorf("iteration = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EvalScore.WithLabelValues("FTL")); got != 0.6 {
		t.Errorf("FTL eval score = %v, want 0.6", got)
	}
}

func TestEventSubscriber_GenericPayloads(t *testing.T) {
	m := New("oltr")
	b := bus.NewMemoryBus(nil)
	if err := NewEventSubscriber(m, b).SubscribeToEvents(context.Background()); err != nil {
		t.Fatalf("SubscribeToEvents() error = %v", err)
	}

	// Kafka consumers hand over decoded JSON objects.
	publishAll(t, b,
		bus.NewEvent(bus.TopicFeedbackCollected, "EtE 1", "run-1", map[string]any{
			"learner": "EtE 1", "iteration": float64(0), "queries": float64(5),
			"rows": float64(12), "history_rows": float64(12),
		}),
		bus.NewEvent(bus.TopicIterationEvaluated, "driver", "run-1", map[string]any{
			"iteration": float64(0), "values": map[string]any{"EtE 1": 0.75},
		}),
	)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := testutil.ToFloat64(m.FeedbackRows.WithLabelValues("EtE 1")); got != 12 {
		t.Errorf("feedback rows = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.EvalScore.WithLabelValues("EtE 1")); got != 0.75 {
		t.Errorf("eval score = %v, want 0.75", got)
	}
	if got := testutil.ToFloat64(m.Iteration); got != 1 {
		t.Errorf("iteration = %v, want 1", got)
	}
}
