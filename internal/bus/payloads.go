package bus

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
)

// Payloads of the experiment topics. On the memory bus handlers receive the
// structs themselves; on Kafka they arrive as generic JSON objects. Decode
// accepts both.

// RunStarted is published once before the first iteration.
type RunStarted struct {
	RunID      string   `json:"run_id"`
	Learners   []string `json:"learners"`
	Baselines  []string `json:"baselines"`
	Iterations int      `json:"iterations"`
	Metric     string   `json:"metric"`
	Cutoff     int      `json:"cutoff"`
}

// FeedbackCollected is published after every feedback round of a learner.
type FeedbackCollected struct {
	Learner     string `json:"learner"`
	Iteration   int    `json:"iteration"`
	Policy      string `json:"policy"`
	Queries     int    `json:"queries"`
	Rows        int    `json:"rows"`
	HistoryRows int    `json:"history_rows"`
}

// RankerTrained is published after every learner update. Error is set when
// the update failed and the learner kept its previous ranker.
type RankerTrained struct {
	Learner   string        `json:"learner"`
	Iteration int           `json:"iteration"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

// IterationEvaluated carries every ranker's test value for one iteration.
type IterationEvaluated struct {
	Iteration int                `json:"iteration"`
	Metric    string             `json:"metric"`
	Cutoff    int                `json:"cutoff"`
	Values    map[string]float64 `json:"values"`
}

// RunCompleted is published once after the last iteration.
type RunCompleted struct {
	RunID      string             `json:"run_id"`
	Iterations int                `json:"iterations"`
	DurationMs int64              `json:"duration_ms"`
	Final      map[string]float64 `json:"final"`
}

// Decode copies an event payload into dst, which must be a pointer to one of
// the payload structs.
func Decode(event Event, dst any) error {
	data, err := json.Marshal(event.Payload)
	if err == nil {
		err = json.Unmarshal(data, dst)
	}
	if err != nil {
		return errors.Wrap(errors.CodeDataInconsistency, "decoding "+event.Type+" payload", err)
	}
	return nil
}
