// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
)

// Config holds all application configuration.
type Config struct {
	// Data sources
	Data DataConfig `yaml:"data"`

	// Experiment loop
	Experiment ExperimentConfig `yaml:"experiment"`

	// Ranker training
	Ranker RankerConfig `yaml:"ranker"`

	// Evaluation metric
	Eval EvalConfig `yaml:"eval"`

	// Simulated users
	ClickModel ClickModelConfig `yaml:"click_model"`

	// Results store
	Results ResultsConfig `yaml:"results"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Run metrics
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// DataConfig selects the query collections. When TrainPath is empty the
// collections are generated.
type DataConfig struct {
	TrainPath   string          `envconfig:"OLTR_TRAIN_PATH" yaml:"train_path"`
	ValidPath   string          `envconfig:"OLTR_VALID_PATH" yaml:"valid_path"`
	TestPath    string          `envconfig:"OLTR_TEST_PATH" yaml:"test_path"`
	NumFeatures int             `envconfig:"OLTR_NUM_FEATURES" yaml:"num_features"` // 0 = infer
	Preprocess  bool            `envconfig:"OLTR_PREPROCESS" yaml:"preprocess"`
	Synthetic   SyntheticConfig `yaml:"synthetic"`
}

// SyntheticConfig sizes generated collections.
type SyntheticConfig struct {
	TrainQueries int     `envconfig:"OLTR_SYNTHETIC_TRAIN_QUERIES" yaml:"train_queries"`
	ValidQueries int     `envconfig:"OLTR_SYNTHETIC_VALID_QUERIES" yaml:"valid_queries"`
	TestQueries  int     `envconfig:"OLTR_SYNTHETIC_TEST_QUERIES" yaml:"test_queries"`
	MinDocuments int     `envconfig:"OLTR_SYNTHETIC_MIN_DOCUMENTS" yaml:"min_documents"`
	MaxDocuments int     `envconfig:"OLTR_SYNTHETIC_MAX_DOCUMENTS" yaml:"max_documents"`
	Features     int     `envconfig:"OLTR_SYNTHETIC_FEATURES" yaml:"features"`
	MaxGrade     int     `envconfig:"OLTR_SYNTHETIC_MAX_GRADE" yaml:"max_grade"`
	Noise        float64 `envconfig:"OLTR_SYNTHETIC_NOISE" yaml:"noise"`
}

// ExperimentConfig holds the driver loop settings.
type ExperimentConfig struct {
	RunID        string `envconfig:"OLTR_RUN_ID" yaml:"run_id"` // empty = generated
	Iterations   int    `envconfig:"OLTR_ITERATIONS" yaml:"iterations"`
	TrainQueries int    `envconfig:"OLTR_TRAIN_QUERIES" yaml:"train_queries"`
	TestQueries  int    `envconfig:"OLTR_TEST_QUERIES" yaml:"test_queries"`
	Seed         uint64 `envconfig:"OLTR_SEED" yaml:"seed"`
	// ExploreIterations lists the thresholds of the EtE learners. Empty
	// means 0..iterations-1.
	ExploreIterations []int  `envconfig:"OLTR_EXPLORE_ITERATIONS" yaml:"explore_iterations"`
	FollowTheLeader   bool   `envconfig:"OLTR_FOLLOW_THE_LEADER" yaml:"follow_the_leader"`
	Baselines         bool   `envconfig:"OLTR_BASELINES" yaml:"baselines"`
	ContinueOnError   bool   `envconfig:"OLTR_CONTINUE_ON_ERROR" yaml:"continue_on_error"`
	OutputPath        string `envconfig:"OLTR_OUTPUT_PATH" yaml:"output_path"`
}

// RankerConfig holds the pairwise trainer settings.
type RankerConfig struct {
	LearningRate        float64 `envconfig:"OLTR_LEARNING_RATE" yaml:"learning_rate"`
	Epochs              int     `envconfig:"OLTR_EPOCHS" yaml:"epochs"`
	L2                  float64 `envconfig:"OLTR_L2" yaml:"l2"`
	EarlyStoppingRounds int     `envconfig:"OLTR_EARLY_STOPPING_ROUNDS" yaml:"early_stopping_rounds"` // 0 = disabled
	EvalAt              int     `envconfig:"OLTR_EVAL_AT" yaml:"eval_at"`
	Verbose             int     `envconfig:"OLTR_TRAIN_VERBOSE" yaml:"verbose"`
}

// EvalConfig holds evaluation settings.
type EvalConfig struct {
	Metric string `envconfig:"OLTR_METRIC" yaml:"metric"`
	Cutoff int    `envconfig:"OLTR_CUTOFF" yaml:"cutoff"` // 0 = whole list
	// Collection is the held-out collection rankers are scored on.
	Collection string `envconfig:"OLTR_EVAL_COLLECTION" yaml:"collection"`
}

// ClickModelConfig selects the simulated user.
type ClickModelConfig struct {
	UserType string `envconfig:"OLTR_USER_TYPE" yaml:"user_type"`
}

// ResultsConfig holds results store settings.
type ResultsConfig struct {
	Type     string `envconfig:"OLTR_RESULTS_TYPE" yaml:"type"`
	RedisURL string `envconfig:"OLTR_REDIS_URL" yaml:"redis_url"`
	TTLHours int    `envconfig:"OLTR_RESULTS_TTL_HOURS" yaml:"ttl_hours"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"OLTR_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"OLTR_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"OLTR_KAFKA_GROUP" yaml:"kafka_group"`
	EventLog     string `envconfig:"OLTR_EVENT_LOG" yaml:"event_log"` // JSONL file, empty = disabled
}

// MetricsConfig holds run metrics settings.
type MetricsConfig struct {
	Enabled      bool   `envconfig:"OLTR_METRICS_ENABLED" yaml:"enabled"`
	Namespace    string `envconfig:"OLTR_METRICS_NAMESPACE" yaml:"namespace"`
	TextfilePath string `envconfig:"OLTR_METRICS_TEXTFILE" yaml:"textfile_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"OLTR_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"OLTR_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	cfg.Data = DataConfig{
		Preprocess: true,
		Synthetic: SyntheticConfig{
			TrainQueries: 200,
			ValidQueries: 50,
			TestQueries:  100,
			MinDocuments: 5,
			MaxDocuments: 20,
			Features:     10,
			MaxGrade:     4,
			Noise:        0.5,
		},
	}

	cfg.Experiment = ExperimentConfig{
		Iterations:      10,
		TrainQueries:    5,
		TestQueries:     100,
		Seed:            42,
		FollowTheLeader: true,
		Baselines:       true,
	}

	cfg.Ranker = RankerConfig{
		LearningRate:        0.02,
		Epochs:              100,
		EarlyStoppingRounds: 50,
		EvalAt:              5,
	}

	cfg.Eval = EvalConfig{
		Metric:     "ndcg",
		Cutoff:     10,
		Collection: "test",
	}

	cfg.ClickModel = ClickModelConfig{
		UserType: "pure_cascade",
	}

	cfg.Results = ResultsConfig{
		Type:     "memory",
		RedisURL: "redis://localhost:6379",
		TTLHours: 168,
	}

	cfg.Bus = BusConfig{
		Type: "memory",
	}

	cfg.Metrics = MetricsConfig{
		Enabled:   true,
		Namespace: "oltr",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Data validation
	if c.Data.TrainPath == "" {
		s := c.Data.Synthetic
		if s.TrainQueries < 1 || s.ValidQueries < 1 || s.TestQueries < 1 {
			errs = append(errs, "synthetic query counts must be positive")
		}
		if s.MinDocuments < 1 || s.MaxDocuments < s.MinDocuments {
			errs = append(errs, "synthetic document counts must satisfy 1 <= min_documents <= max_documents")
		}
		if s.Features < 1 {
			errs = append(errs, "synthetic features must be positive")
		}
	}
	if c.Data.TrainPath != "" {
		if c.Data.TestPath == "" {
			errs = append(errs, "test_path must be set when train_path is set")
		}
		if c.Ranker.EarlyStoppingRounds > 0 && c.Data.ValidPath == "" {
			errs = append(errs, "valid_path must be set when early_stopping_rounds is positive")
		}
	}
	if c.Data.NumFeatures < 0 {
		errs = append(errs, "num_features must not be negative")
	}

	// Experiment validation
	if c.Experiment.Iterations < 1 {
		errs = append(errs, "iterations must be positive")
	}
	if c.Experiment.TrainQueries < 1 {
		errs = append(errs, "train_queries must be positive")
	}
	if c.Experiment.TestQueries < 1 {
		errs = append(errs, "test_queries must be positive")
	}
	for _, k := range c.Experiment.ExploreIterations {
		if k < 0 {
			errs = append(errs, fmt.Sprintf("explore iteration threshold %d must not be negative", k))
		}
	}

	// Ranker validation
	if c.Ranker.LearningRate <= 0 {
		errs = append(errs, "learning_rate must be positive")
	}
	if c.Ranker.Epochs < 1 {
		errs = append(errs, "epochs must be positive")
	}
	if c.Ranker.L2 < 0 {
		errs = append(errs, "l2 must not be negative")
	}
	if c.Ranker.EarlyStoppingRounds < 0 {
		errs = append(errs, "early_stopping_rounds must not be negative")
	}

	// Eval validation
	validMetrics := map[string]bool{"ndcg": true, "precision": true, "recall": true, "mrr": true, "map": true}
	if !validMetrics[c.Eval.Metric] {
		errs = append(errs, fmt.Sprintf("invalid metric: %s (must be ndcg, precision, recall, mrr, or map)", c.Eval.Metric))
	}
	if c.Eval.Cutoff < 0 {
		errs = append(errs, "cutoff must not be negative")
	}
	validCollections := map[string]bool{"train": true, "valid": true, "vali": true, "validation": true, "test": true}
	if !validCollections[c.Eval.Collection] {
		errs = append(errs, fmt.Sprintf("invalid eval collection: %s (must be train, valid, or test)", c.Eval.Collection))
	}

	// Click model validation
	validUsers := map[string]bool{"perfect": true, "navigational": true, "informational": true, "pure_cascade": true}
	if !validUsers[c.ClickModel.UserType] {
		errs = append(errs, fmt.Sprintf("invalid user type: %s (must be perfect, navigational, informational, or pure_cascade)", c.ClickModel.UserType))
	}

	// Results validation
	validStores := map[string]bool{"memory": true, "redis": true}
	if !validStores[c.Results.Type] {
		errs = append(errs, fmt.Sprintf("invalid results type: %s (must be memory or redis)", c.Results.Type))
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}
	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers must be set for the kafka bus")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return errors.ValidationError(fmt.Sprintf("config validation failed:\n  - %s", strings.Join(errs, "\n  - ")))
	}

	return nil
}

// ExploreThresholds returns the EtE thresholds to run.
func (c *Config) ExploreThresholds() []int {
	if len(c.Experiment.ExploreIterations) > 0 {
		return c.Experiment.ExploreIterations
	}
	thresholds := make([]int, c.Experiment.Iterations)
	for i := range thresholds {
		thresholds[i] = i
	}
	return thresholds
}

// UseSyntheticData reports whether collections are generated.
func (c *Config) UseSyntheticData() bool {
	return c.Data.TrainPath == ""
}
