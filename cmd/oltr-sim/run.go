package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ricesearch/oltr-sim/internal/bus"
	"github.com/ricesearch/oltr-sim/internal/config"
	"github.com/ricesearch/oltr-sim/internal/experiment"
	"github.com/ricesearch/oltr-sim/internal/metrics"
	"github.com/ricesearch/oltr-sim/internal/pkg/logger"
	"github.com/ricesearch/oltr-sim/internal/results"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an online learning-to-rank experiment",
		Long: `Run Follow-the-Leader and Explore-then-Exploit learners for a number of
iterations. Each iteration every learner collects clicks on a sample of
training queries, retrains on its whole click history, and is evaluated
on a sample of test queries together with the offline baselines.

Without --train the collections are generated.

Examples:
  oltr-sim run
  oltr-sim run --iterations 20 --explore 0,5,10
  oltr-sim run --train Fold1/train.txt --valid Fold1/vali.txt --test Fold1/test.txt
  oltr-sim run --results redis --bus kafka --output report.json`,
		RunE: runExperiment,
	}

	// Data flags
	cmd.Flags().String("train", "", "LETOR train file (generated data when empty)")
	cmd.Flags().String("valid", "", "LETOR validation file")
	cmd.Flags().String("test", "", "LETOR test file")
	cmd.Flags().Int("num-features", 0, "feature count (0 = infer)")

	// Experiment flags
	cmd.Flags().String("run-id", "", "run id (generated when empty)")
	cmd.Flags().IntP("iterations", "n", 0, "number of iterations")
	cmd.Flags().Int("train-queries", 0, "queries sampled per feedback round")
	cmd.Flags().Int("test-queries", 0, "queries sampled per evaluation")
	cmd.Flags().Uint64("seed", 0, "random seed")
	cmd.Flags().IntSlice("explore", nil, "explore-then-exploit thresholds")
	cmd.Flags().Bool("no-ftl", false, "skip the Follow-the-Leader learner")
	cmd.Flags().Bool("no-baselines", false, "skip the offline baselines")
	cmd.Flags().Bool("continue-on-error", false, "skip a failing learner for one iteration instead of aborting")
	cmd.Flags().StringP("output", "o", "", "write the JSON report to this path")
	cmd.Flags().Duration("timeout", 0, "abort the run after this long (0 = no limit)")

	// Evaluation and users
	cmd.Flags().String("metric", "", "evaluation metric (ndcg, precision, recall, mrr, map)")
	cmd.Flags().Int("cutoff", 0, "metric cutoff")
	cmd.Flags().String("collection", "", "held-out collection to evaluate on (test, valid, train)")
	cmd.Flags().String("user-type", "", "click model (perfect, navigational, informational, pure_cascade)")

	// Infrastructure
	cmd.Flags().String("results", "", "results store (memory, redis)")
	cmd.Flags().String("redis-url", "", "Redis URL for the results store")
	cmd.Flags().String("bus", "", "event bus (memory, kafka)")
	cmd.Flags().String("kafka-brokers", "", "comma separated Kafka brokers")
	cmd.Flags().String("event-log", "", "append published events to this JSONL file")
	cmd.Flags().String("metrics-textfile", "", "write Prometheus metrics to this file")

	return cmd
}

// applyFlags overrides loaded configuration with the flags that were set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}

	str("train", &cfg.Data.TrainPath)
	str("valid", &cfg.Data.ValidPath)
	str("test", &cfg.Data.TestPath)
	num("num-features", &cfg.Data.NumFeatures)

	str("run-id", &cfg.Experiment.RunID)
	num("iterations", &cfg.Experiment.Iterations)
	num("train-queries", &cfg.Experiment.TrainQueries)
	num("test-queries", &cfg.Experiment.TestQueries)
	if flags.Changed("seed") {
		cfg.Experiment.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("explore") {
		cfg.Experiment.ExploreIterations, _ = flags.GetIntSlice("explore")
	}
	if noFTL, _ := flags.GetBool("no-ftl"); noFTL {
		cfg.Experiment.FollowTheLeader = false
	}
	if noBaselines, _ := flags.GetBool("no-baselines"); noBaselines {
		cfg.Experiment.Baselines = false
	}
	if cont, _ := flags.GetBool("continue-on-error"); cont {
		cfg.Experiment.ContinueOnError = true
	}
	str("output", &cfg.Experiment.OutputPath)

	str("metric", &cfg.Eval.Metric)
	num("cutoff", &cfg.Eval.Cutoff)
	str("collection", &cfg.Eval.Collection)
	str("user-type", &cfg.ClickModel.UserType)

	str("results", &cfg.Results.Type)
	str("redis-url", &cfg.Results.RedisURL)
	str("bus", &cfg.Bus.Type)
	str("kafka-brokers", &cfg.Bus.KafkaBrokers)
	str("event-log", &cfg.Bus.EventLog)
	str("metrics-textfile", &cfg.Metrics.TextfilePath)

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
}

func runExperiment(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	format, _ := cmd.Flags().GetString("format")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Experiment.RunID == "" {
		cfg.Experiment.RunID = uuid.NewString()
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("Starting oltr-sim",
		"version", version,
		"run_id", cfg.Experiment.RunID,
		"synthetic", cfg.UseSyntheticData(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	data, err := experiment.LoadData(ctx, cfg.Data, cfg.Experiment.Seed, log)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}

	var (
		m        *metrics.Metrics
		recorder bus.MetricsRecorder
	)
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
		recorder = m
	}

	eventBus, err := bus.NewBus(cfg.Bus, recorder, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	closeBus := sync.OnceValue(eventBus.Close)
	defer func() { _ = closeBus() }()
	log.Info("Initialized event bus", "type", cfg.Bus.Type, "event_log", cfg.Bus.EventLog)

	if m != nil {
		if err := metrics.NewEventSubscriber(m, eventBus).SubscribeToEvents(ctx); err != nil {
			return fmt.Errorf("failed to subscribe metrics: %w", err)
		}
	}

	store, err := results.NewStore(cfg.Results, cfg.Experiment.RunID)
	if err != nil {
		return fmt.Errorf("failed to create results store: %w", err)
	}
	defer func() { _ = store.Close() }()
	log.Info("Initialized results store", "type", cfg.Results.Type)

	driver, err := experiment.New(experiment.Options{
		Config: cfg,
		Data:   data,
		Store:  store,
		Bus:    eventBus,
		Logger: log,
	})
	if err != nil {
		return err
	}

	report, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	digests, err := experiment.DataDigests(cfg.Data, cfg.Experiment.Seed)
	if err != nil {
		log.WithError(err).Warn("Failed to fingerprint data")
	}
	report.Data = digests

	if cfg.Experiment.OutputPath != "" {
		if err := report.WriteFile(cfg.Experiment.OutputPath); err != nil {
			return err
		}
		log.Info("Wrote report", "path", cfg.Experiment.OutputPath)
	}
	if m != nil && cfg.Metrics.TextfilePath != "" {
		// Closing drains the in-flight metric handlers.
		if err := closeBus(); err != nil {
			log.WithError(err).Warn("Failed to close event bus")
		}
		if err := m.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			log.WithError(err).Warn("Failed to write metrics textfile")
		}
	}

	return printReport(report, format)
}

// printReport prints the final value of every series.
func printReport(report *experiment.Report, format string) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	names := report.Series.Names()
	sort.Strings(names)

	fmt.Printf("run %s: %s@%d after %d iterations\n\n", report.RunID, report.Metric, report.Cutoff, report.Iterations)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANKER\tFINAL\tPOINTS")
	for _, name := range names {
		last, _ := report.Series.Last(name)
		fmt.Fprintf(w, "%s\t%.4f\t%d\n", name, last.Value, len(report.Series[name]))
	}
	return w.Flush()
}
