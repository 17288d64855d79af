package experiment

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
	"github.com/ricesearch/oltr-sim/internal/results"
)

// LearnerSummary describes a learner at the end of a run.
type LearnerSummary struct {
	Name              string `json:"name"`
	ExploreIterations int    `json:"explore_iterations"`
	Iterations        int    `json:"iterations"`
	HistoryBatches    int    `json:"history_batches"`
	HistoryRows       int    `json:"history_rows"`
	Failures          int    `json:"failures"`
}

// Report is the JSON results artifact of a run.
type Report struct {
	RunID        string `json:"run_id"`
	Metric       string `json:"metric"`
	Cutoff       int    `json:"cutoff"`
	Iterations   int    `json:"iterations"`
	TrainQueries int    `json:"train_queries"`
	TestQueries  int    `json:"test_queries"`
	Seed         uint64 `json:"seed"`
	// Data maps each collection to the digest from DataDigests.
	Data       map[string]string `json:"data,omitempty"`
	Learners   []LearnerSummary  `json:"learners"`
	Baselines  []string          `json:"baselines"`
	Series     results.Series    `json:"series"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// WriteFile writes the report as indented JSON.
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.InternalError("encoding report", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// ReadReport reads a report written by WriteFile.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("report " + path)
		}
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(errors.CodeDataInconsistency, "decoding report", err)
	}
	return &r, nil
}
