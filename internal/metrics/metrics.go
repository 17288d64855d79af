// Package metrics exports the progress of an experiment run as Prometheus
// metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all run metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Feedback metrics
	FeedbackQueries *prometheus.CounterVec // labels: learner
	FeedbackRows    *prometheus.CounterVec // labels: learner
	HistoryRows     *prometheus.GaugeVec   // labels: learner

	// Training metrics
	RetrainDuration *prometheus.HistogramVec // labels: learner
	RetrainErrors   *prometheus.CounterVec   // labels: learner

	// Evaluation metrics
	EvalScore *prometheus.GaugeVec // labels: ranker
	Iteration prometheus.Gauge

	// Bus metrics
	BusEventsPublished *prometheus.CounterVec   // labels: topic
	BusEventLatency    *prometheus.HistogramVec // labels: topic
	BusErrors          *prometheus.CounterVec   // labels: topic
}

// New creates a new metrics instance. Metric names are prefixed with
// namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FeedbackQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_queries_total",
			Help:      "Total number of queries shown to simulated users",
		}, []string{"learner"}),
		FeedbackRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_rows_total",
			Help:      "Total number of observed training rows",
		}, []string{"learner"}),
		HistoryRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_rows",
			Help:      "Rows in the learner's training history",
		}, []string{"learner"}),

		RetrainDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrain_duration_seconds",
			Help:      "Time spent refitting a ranker on the full history",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"learner"}),
		RetrainErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrain_errors_total",
			Help:      "Total number of failed learner updates",
		}, []string{"learner"}),

		EvalScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eval_score",
			Help:      "Most recent test metric value per ranker",
		}, []string{"ranker"}),
		Iteration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iteration",
			Help:      "Last completed experiment iteration",
		}),

		BusEventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_published_total",
			Help:      "Total number of events published",
		}, []string{"topic"}),
		BusEventLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_event_latency_seconds",
			Help:      "Event publish latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		BusErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_errors_total",
			Help:      "Total number of failed publishes",
		}, []string{"topic"}),
	}
}

// Registry returns the registry holding the run metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFeedback records one feedback round of a learner.
func (m *Metrics) RecordFeedback(learner string, queries, rows, historyRows int) {
	m.FeedbackQueries.WithLabelValues(learner).Add(float64(queries))
	m.FeedbackRows.WithLabelValues(learner).Add(float64(rows))
	m.HistoryRows.WithLabelValues(learner).Set(float64(historyRows))
}

// RecordRetrain records a learner update.
func (m *Metrics) RecordRetrain(learner string, d time.Duration, err error) {
	if err != nil {
		m.RetrainErrors.WithLabelValues(learner).Inc()
		return
	}
	m.RetrainDuration.WithLabelValues(learner).Observe(d.Seconds())
}

// RecordEvaluation records a test metric value.
func (m *Metrics) RecordEvaluation(ranker string, value float64) {
	m.EvalScore.WithLabelValues(ranker).Set(value)
}

// SetIteration records the last completed iteration.
func (m *Metrics) SetIteration(i int) {
	m.Iteration.Set(float64(i))
}

// RecordBusPublish records a bus publish operation.
func (m *Metrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	m.BusEventsPublished.WithLabelValues(topic).Inc()
	m.BusEventLatency.WithLabelValues(topic).Observe(latency.Seconds())
	if err != nil {
		m.BusErrors.WithLabelValues(topic).Inc()
	}
}

// WriteTextfile writes all metrics in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
