package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ricesearch/oltr-sim/internal/bus"
	"github.com/ricesearch/oltr-sim/internal/experiment"
	"github.com/ricesearch/oltr-sim/internal/queryset"
)

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect reports, event logs and datasets",
	}

	reportCmd := &cobra.Command{
		Use:   "report <path>",
		Short: "Print the series of a JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			report, err := experiment.ReadReport(args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				return printJSON(report)
			}
			return printSeries(report)
		},
	}

	eventsCmd := &cobra.Command{
		Use:   "events <path>",
		Short: "Print events from a JSONL event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			topic, _ := cmd.Flags().GetString("topic")
			limit, _ := cmd.Flags().GetInt("limit")
			events, err := bus.ReadEvents(args[0], topic, limit)
			if err != nil {
				return err
			}
			if format == "json" {
				return printJSON(events)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTOPIC\tSOURCE\tID")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Topic, e.Event.Source, e.Event.ID)
			}
			return w.Flush()
		},
	}
	eventsCmd.Flags().String("topic", "", "only events on this topic")
	eventsCmd.Flags().Int("limit", 0, "maximum events to print (0 = all)")

	dataCmd := &cobra.Command{
		Use:   "data <path>",
		Short: "Summarise a LETOR file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			numFeatures, _ := cmd.Flags().GetInt("num-features")
			qs, err := queryset.LoadFile(args[0], queryset.LoadOptions{NumFeatures: numFeatures})
			if err != nil {
				return err
			}
			s := qs.Describe()
			if format == "json" {
				return printJSON(s)
			}
			fmt.Printf("queries:   %d\n", s.Queries)
			fmt.Printf("documents: %d (%.1f ± %.1f per query)\n", s.Documents, s.MeanDocuments, s.StdDocuments)
			fmt.Printf("features:  %d\n", s.Features)
			grades := make([]int, 0, len(s.LabelHistogram))
			for g := range s.LabelHistogram {
				grades = append(grades, g)
			}
			sort.Ints(grades)
			for _, g := range grades {
				fmt.Printf("  label %d: %d\n", g, s.LabelHistogram[g])
			}
			return nil
		},
	}
	dataCmd.Flags().Int("num-features", 0, "feature count (0 = infer)")

	cmd.AddCommand(reportCmd, eventsCmd, dataCmd)
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSeries prints one row per iteration and one column per ranker.
func printSeries(report *experiment.Report) error {
	names := report.Series.Names()
	sort.Strings(names)

	fmt.Printf("run %s: %s@%d, seed %d, %d train / %d test queries per iteration\n\n",
		report.RunID, report.Metric, report.Cutoff, report.Seed, report.TrainQueries, report.TestQueries)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "ITERATION")
	for _, name := range names {
		fmt.Fprintf(w, "\t%s", name)
	}
	fmt.Fprintln(w)

	for it := 0; it < report.Iterations; it++ {
		fmt.Fprintf(w, "%d", it)
		for _, name := range names {
			value := "-"
			for _, p := range report.Series[name] {
				if p.Iteration == it {
					value = fmt.Sprintf("%.4f", p.Value)
					break
				}
			}
			fmt.Fprintf(w, "\t%s", value)
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(report.Learners) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LEARNER\tEXPLORE\tRETRAINS\tBATCHES\tROWS\tFAILURES")
		for _, l := range report.Learners {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n",
				l.Name, l.ExploreIterations, l.Iterations, l.HistoryBatches, l.HistoryRows, l.Failures)
		}
		return w.Flush()
	}
	return nil
}
