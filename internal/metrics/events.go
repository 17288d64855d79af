package metrics

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/ricesearch/oltr-sim/internal/bus"
)

// EventSubscriber keeps the run metrics current from the events the driver
// publishes. Memory bus handlers may run out of order, so gauges only move
// forward to a later iteration.
type EventSubscriber struct {
	metrics *Metrics
	bus     bus.Bus

	mu            sync.Mutex
	lastFeedback  map[string]int // learner -> iteration
	lastEvaluated int
}

// NewEventSubscriber creates a new event subscriber.
func NewEventSubscriber(metrics *Metrics, eventBus bus.Bus) *EventSubscriber {
	return &EventSubscriber{
		metrics:       metrics,
		bus:           eventBus,
		lastFeedback:  make(map[string]int),
		lastEvaluated: -1,
	}
}

// SubscribeToEvents subscribes to the learner and evaluation topics.
func (es *EventSubscriber) SubscribeToEvents(ctx context.Context) error {
	if err := es.bus.Subscribe(ctx, bus.TopicFeedbackCollected, es.handleFeedbackCollected); err != nil {
		return err
	}
	if err := es.bus.Subscribe(ctx, bus.TopicRankerTrained, es.handleRankerTrained); err != nil {
		return err
	}
	return es.bus.Subscribe(ctx, bus.TopicIterationEvaluated, es.handleIterationEvaluated)
}

// Event handlers

func (es *EventSubscriber) handleFeedbackCollected(_ context.Context, event bus.Event) error {
	var p bus.FeedbackCollected
	if err := bus.Decode(event, &p); err != nil {
		return err
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if last, ok := es.lastFeedback[p.Learner]; ok && p.Iteration < last {
		es.metrics.FeedbackQueries.WithLabelValues(p.Learner).Add(float64(p.Queries))
		es.metrics.FeedbackRows.WithLabelValues(p.Learner).Add(float64(p.Rows))
		return nil
	}
	es.lastFeedback[p.Learner] = p.Iteration
	es.metrics.RecordFeedback(p.Learner, p.Queries, p.Rows, p.HistoryRows)
	return nil
}

func (es *EventSubscriber) handleRankerTrained(_ context.Context, event bus.Event) error {
	var p bus.RankerTrained
	if err := bus.Decode(event, &p); err != nil {
		return err
	}
	var err error
	if p.Error != "" {
		err = stderrors.New(p.Error)
	}
	es.metrics.RecordRetrain(p.Learner, p.Duration, err)
	return nil
}

func (es *EventSubscriber) handleIterationEvaluated(_ context.Context, event bus.Event) error {
	var p bus.IterationEvaluated
	if err := bus.Decode(event, &p); err != nil {
		return err
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if p.Iteration <= es.lastEvaluated {
		return nil
	}
	es.lastEvaluated = p.Iteration
	for ranker, v := range p.Values {
		es.metrics.RecordEvaluation(ranker, v)
	}
	es.metrics.SetIteration(p.Iteration + 1)
	return nil
}
