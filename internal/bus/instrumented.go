package bus

import (
	"context"
	"time"
)

// MetricsRecorder receives one observation per publish. metrics.Metrics
// implements it; the interface keeps bus free of the Prometheus import.
type MetricsRecorder interface {
	RecordBusPublish(topic string, latency time.Duration, err error)
}

// InstrumentedBus times every publish of the wrapped bus, failed ones
// included.
type InstrumentedBus struct {
	inner    Bus
	recorder MetricsRecorder
}

// NewInstrumentedBus wraps inner. A nil recorder disables recording.
func NewInstrumentedBus(inner Bus, recorder MetricsRecorder) *InstrumentedBus {
	return &InstrumentedBus{inner: inner, recorder: recorder}
}

// Publish implements Bus.
func (b *InstrumentedBus) Publish(ctx context.Context, topic string, event Event) error {
	start := time.Now()
	err := b.inner.Publish(ctx, topic, event)
	if b.recorder != nil {
		b.recorder.RecordBusPublish(topic, time.Since(start), err)
	}
	return err
}

// Subscribe implements Bus.
func (b *InstrumentedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close implements Bus.
func (b *InstrumentedBus) Close() error { return b.inner.Close() }
