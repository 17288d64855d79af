package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
)

func waitGroup(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("Timeout waiting for events")
	}
}

func TestNewEvent(t *testing.T) {
	a := NewEvent("feedback.collected", "FTL", "run-1", map[string]int{"queries": 5})
	b := NewEvent("feedback.collected", "FTL", "run-1", nil)

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("event ids = %q, %q, want unique non-empty", a.ID, b.ID)
	}
	if a.Timestamp == 0 {
		t.Error("Timestamp not set")
	}
	if a.CorrelationID != "run-1" || a.Source != "FTL" {
		t.Errorf("event = %+v", a)
	}
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	err := bus.Subscribe(context.Background(), TopicFeedbackCollected, func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	wg.Add(3)
	for i := 0; i < 3; i++ {
		if err := bus.Publish(context.Background(), TopicFeedbackCollected, NewEvent("feedback.collected", "test", "", i)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	waitGroup(t, &wg, time.Second)

	if got := received.Load(); got != 3 {
		t.Errorf("Received %d events, want 3", got)
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var count1, count2 atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), "test.topic", func(ctx context.Context, event Event) error {
		count1.Add(1)
		wg.Done()
		return nil
	})
	bus.Subscribe(context.Background(), "test.topic", func(ctx context.Context, event Event) error {
		count2.Add(1)
		wg.Done()
		return nil
	})

	// Publish one event - both subscribers should receive
	wg.Add(2)
	bus.Publish(context.Background(), "test.topic", Event{ID: "test", Type: "test"})
	waitGroup(t, &wg, time.Second)

	if count1.Load() != 1 || count2.Load() != 1 {
		t.Errorf("Expected both subscribers to receive 1 event, got %d and %d", count1.Load(), count2.Load())
	}
}

func TestMemoryBus_NoSubscribers(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	// Publishing to a topic with no subscribers should not error
	if err := bus.Publish(context.Background(), "empty.topic", Event{ID: "test", Type: "test"}); err != nil {
		t.Errorf("Publish() to empty topic error = %v", err)
	}
}

func TestMemoryBus_CloseDrainsHandlers(t *testing.T) {
	bus := NewMemoryBus(nil)

	var handled atomic.Bool
	bus.Subscribe(context.Background(), "slow", func(ctx context.Context, event Event) error {
		time.Sleep(20 * time.Millisecond)
		handled.Store(true)
		return nil
	})
	bus.Publish(context.Background(), "slow", Event{ID: "1"})

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !handled.Load() {
		t.Error("Close() returned before the in-flight handler finished")
	}

	// Operations should fail after close
	if err := bus.Publish(context.Background(), "test", Event{}); errors.CodeOf(err) != errors.CodeUnavailable {
		t.Errorf("Publish() after Close() error = %v, want %s", err, errors.CodeUnavailable)
	}
	err := bus.Subscribe(context.Background(), "test", func(ctx context.Context, event Event) error {
		return nil
	})
	if errors.CodeOf(err) != errors.CodeUnavailable {
		t.Errorf("Subscribe() after Close() error = %v, want %s", err, errors.CodeUnavailable)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestMemoryBus_Concurrent(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), "concurrent", func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	numPublishers := 10
	eventsPerPublisher := 100
	wg.Add(numPublishers * eventsPerPublisher)

	for p := 0; p < numPublishers; p++ {
		go func() {
			for i := 0; i < eventsPerPublisher; i++ {
				bus.Publish(context.Background(), "concurrent", Event{ID: "test", Type: "test"})
			}
		}()
	}
	waitGroup(t, &wg, 5*time.Second)

	expected := int32(numPublishers * eventsPerPublisher)
	if got := received.Load(); got != expected {
		t.Errorf("Received %d events, want %d", got, expected)
	}
}

type recordedPublish struct {
	topic string
	err   error
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedPublish
}

func (f *fakeRecorder) RecordBusPublish(topic string, _ time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedPublish{topic, err})
}

func TestInstrumentedBus(t *testing.T) {
	rec := &fakeRecorder{}
	inner := NewMemoryBus(nil)
	bus := NewInstrumentedBus(inner, rec)

	if err := bus.Publish(context.Background(), TopicRunStarted, Event{ID: "1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	bus.Close()
	if err := bus.Publish(context.Background(), TopicRunStarted, Event{ID: "2"}); err == nil {
		t.Fatal("Publish() after Close() should error")
	}

	if len(rec.calls) != 2 {
		t.Fatalf("recorded %d publishes, want 2", len(rec.calls))
	}
	if rec.calls[0].err != nil || rec.calls[1].err == nil {
		t.Errorf("recorded errors = %v, %v", rec.calls[0].err, rec.calls[1].err)
	}
}

func TestDecode(t *testing.T) {
	want := FeedbackCollected{Learner: "FTL", Iteration: 2, Policy: "exploit", Queries: 5, Rows: 40, HistoryRows: 120}

	// Memory bus handlers see the struct, Kafka handlers a generic object.
	events := map[string]Event{
		"struct": NewEvent(TopicFeedbackCollected, "FTL", "run-1", want),
		"map": NewEvent(TopicFeedbackCollected, "FTL", "run-1", map[string]any{
			"learner": "FTL", "iteration": float64(2), "policy": "exploit",
			"queries": float64(5), "rows": float64(40), "history_rows": float64(120),
		}),
	}
	for name, event := range events {
		t.Run(name, func(t *testing.T) {
			var got FeedbackCollected
			if err := Decode(event, &got); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != want {
				t.Errorf("Decode() = %+v, want %+v", got, want)
			}
		})
	}

	bad := NewEvent(TopicFeedbackCollected, "FTL", "run-1", map[string]any{"iteration": "two"})
	var got FeedbackCollected
	if err := Decode(bad, &got); errors.CodeOf(err) != errors.CodeDataInconsistency {
		t.Errorf("Decode() error = %v, want %s", err, errors.CodeDataInconsistency)
	}
}
