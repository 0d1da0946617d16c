package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/morphogen/internal/harness"
	"github.com/roach88/morphogen/internal/store"
	"github.com/roach88/morphogen/internal/telemetry"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database     string
	Limit        int
	FailOnBreach bool
}

// RunReport is the analysis of one telemetry or metrics file.
type RunReport struct {
	Source   string           `json:"source"`
	Analysis harness.Analysis `json:"analysis"`
	Note     string           `json:"note"`
}

// ArchiveReport lists what a database holds.
type ArchiveReport struct {
	Runs     []store.Run     `json:"runs"`
	Outcomes []store.Outcome `json:"outcomes"`
}

// ReportResult is the report command payload.
type ReportResult struct {
	Run     *RunReport     `json:"run,omitempty"`
	Archive *ArchiveReport `json:"archive,omitempty"`
}

func (r ReportResult) String() string {
	var b strings.Builder
	if r.Run != nil {
		s := r.Run.Analysis.Statistics
		fmt.Fprintf(&b, "%s\n", r.Run.Source)
		fmt.Fprintf(&b, "  steps=%d cells=%d..%d avg_threat=%.3f max_threat=%.3f\n",
			s.StepCount, s.MinCellCount, s.MaxCellCount, s.AvgThreat, s.MaxThreat)
		fmt.Fprintf(&b, "  replications=%d signals=%d lineage_shifts=%d stimulus=%.3f\n",
			s.TotalReplications, s.TotalSignals, s.TotalLineageShifts, s.TotalStimulus)
		fmt.Fprintf(&b, "  fitness=%.3f breach=%t\n", r.Run.Analysis.Fitness, r.Run.Analysis.Breach)
		fmt.Fprintf(&b, "  %s", r.Run.Note)
	}
	if r.Archive != nil {
		if r.Run != nil {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Runs (%d):", len(r.Archive.Runs))
		for _, run := range r.Archive.Runs {
			status := "incomplete"
			if run.Completed {
				status = fmt.Sprintf("%d cells, %.12s", run.FinalCells, run.Digest)
			}
			fmt.Fprintf(&b, "\n  %s  %-16s seed=%d steps=%d  %s", run.ID, run.Scenario, run.Seed, run.Steps, status)
		}
		fmt.Fprintf(&b, "\nOutcomes (%d):", len(r.Archive.Outcomes))
		for _, o := range r.Archive.Outcomes {
			fmt.Fprintf(&b, "\n  #%d gen %03d  %-32s fitness=%.3f breach=%t %s", o.Seq, o.Generation, o.CandidateID, o.Fitness, o.Breach, o.Mutation)
		}
	}
	return b.String()
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report [telemetry.jsonl|step_metrics.csv]",
		Short: "Analyze a run and list archived runs and outcomes",
		Long: `Fold a telemetry stream (.jsonl or .jsonl.br) or a metrics CSV into run
statistics, the attack fitness score and the recommended next mutation.

With --db, also list the runs and harness outcomes stored in a database.

Exit codes:
  0 - Report produced
  1 - Breach detected (with --fail-on-breach)
  2 - Command error (file not found, no metrics, etc.)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runReport(opts, path, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "list runs and outcomes from this SQLite database")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "most recent outcomes to list (0 = all)")
	cmd.Flags().BoolVar(&opts.FailOnBreach, "fail-on-breach", false, "exit 1 when the analyzed run is a breach")

	return cmd
}

func runReport(opts *ReportOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	if path == "" && opts.Database == "" {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "nothing to report: give a telemetry file or --db", nil)
	}

	var result ReportResult
	if path != "" {
		rows, err := loadMetricsRows(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return f.Fail(ExitCommandError, ErrCodeNotFound, "file not found: "+path, err)
		case err != nil:
			return f.Fail(ExitCommandError, ErrCodeGeneric, "cannot read "+path, err)
		}
		analysis, err := harness.Analyze(rows)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "cannot analyze "+path, err)
		}
		result.Run = &RunReport{Source: path, Analysis: analysis, Note: analysis.Note()}
	}

	if opts.Database != "" {
		if _, err := os.Stat(opts.Database); err != nil {
			return f.Fail(ExitCommandError, ErrCodeNotFound, "database not found: "+opts.Database, err)
		}
		st, err := store.Open(opts.Database)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to open database", err)
		}
		defer st.Close()

		archive := &ArchiveReport{}
		if archive.Runs, err = st.Runs(commandContext(cmd)); err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to list runs", err)
		}
		if archive.Outcomes, err = st.Outcomes(commandContext(cmd), opts.Limit); err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to list outcomes", err)
		}
		result.Archive = archive
	}

	if err := f.Success(result); err != nil {
		return err
	}
	if opts.FailOnBreach && result.Run != nil && result.Run.Analysis.Breach {
		return NewExitError(ExitFailure, "breach detected in "+path)
	}
	return nil
}

// loadMetricsRows reads per-step metrics from a CSV, or folds them from a
// telemetry stream.
func loadMetricsRows(path string) ([]telemetry.MetricsRow, error) {
	if strings.HasSuffix(path, ".csv") {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return telemetry.ReadMetricsCSV(file)
	}
	events, err := telemetry.ReadJSONL(path)
	if err != nil {
		return nil, err
	}
	return telemetry.Metrics(events), nil
}
