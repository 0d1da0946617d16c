package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/morphogen/internal/engine"
	"github.com/roach88/morphogen/internal/scenario"
	"github.com/roach88/morphogen/internal/store"
	"github.com/roach88/morphogen/internal/telemetry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Scenario  string
	Stimulus  string
	Telemetry string
	Metrics   string
	Database  string

	// RunIDGenerator allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDGenerator engine.RunIDGenerator
}

// RunResult summarizes a completed run.
type RunResult struct {
	RunID      string `json:"run_id"`
	Scenario   string `json:"scenario"`
	Steps      int64  `json:"steps"`
	FinalCells int    `json:"final_cells"`
	Digest     string `json:"digest"`
	Telemetry  string `json:"telemetry,omitempty"`
	Metrics    string `json:"metrics,omitempty"`
}

func (r RunResult) String() string {
	return fmt.Sprintf("Run %s (%s): %d steps, %d cells alive\nDigest: %s",
		r.RunID, r.Scenario, r.Steps, r.FinalCells, r.Digest)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario to completion",
		Long: `Run a scenario through the kernel, optionally driven by a stimulus schedule.

Telemetry is written as JSON lines (brotli-compressed when the path ends in
.br), per-step metrics as CSV, and the full event stream can be persisted to
a SQLite database.

Example:
  morphogen run --scenario scenario.yaml
  morphogen run --scenario scenario.yaml --stimulus attack.jsonl \
    --telemetry run.jsonl.br --metrics step_metrics.csv --db morphogen.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "path to scenario YAML (required)")
	cmd.Flags().StringVar(&opts.Stimulus, "stimulus", "", "path to JSONL stimulus schedule")
	cmd.Flags().StringVar(&opts.Telemetry, "telemetry", "", "write telemetry JSONL to this path (.br for brotli)")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "write per-step metrics CSV to this path")
	cmd.Flags().StringVar(&opts.Database, "db", "", "persist the run to this SQLite database")
	_ = cmd.MarkFlagRequired("scenario")

	return cmd
}

func runScenario(opts *RunOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	log := opts.logger()

	sc, schedule, err := loadInputs(f, opts.Scenario, opts.Stimulus)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(commandContext(cmd), log)
	defer cancel()

	gen := opts.RunIDGenerator
	if gen == nil {
		gen = engine.UUIDv7Generator{}
	}
	runID := gen.Generate()
	f.RunID = runID

	mem := telemetry.NewMemory()
	sinks := []telemetry.Sink{mem}

	if opts.Telemetry != "" {
		file, err := telemetry.CreateJSONL(opts.Telemetry)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, "cannot create telemetry file", err)
		}
		sinks = append(sinks, file)
	}

	var st *store.Store
	if opts.Database != "" {
		log.Info("opening database", "path", opts.Database)
		st, err = store.Open(opts.Database)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		run := store.Run{ID: runID, Scenario: sc.Name, Seed: sc.Seed, Steps: int64(sc.Steps)}
		if err := st.BeginRun(ctx, run); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to record run", err)
		}
		sinks = append(sinks, st.NewEventSink(runID))
	}
	sink := telemetry.NewPipeline(sinks...)

	e, err := engine.New(sc, schedule,
		engine.WithSink(sink),
		engine.WithWorkers(opts.Workers),
		engine.WithLogger(log),
		engine.WithRunID(runID),
	)
	if err != nil {
		_ = sink.Close()
		return f.Fail(ExitFailure, ErrCodeInvalidScenario, "invalid scenario: "+opts.Scenario, err)
	}

	runErr := e.Run(ctx)
	closeErr := sink.Close()
	if runErr != nil {
		return f.Fail(ExitFailure, ErrCodeRunFailed, "run did not complete", runErr)
	}
	if closeErr != nil {
		return f.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write telemetry", closeErr)
	}

	events := mem.Events()
	digest, err := telemetry.Digest(events)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, "failed to digest telemetry", err)
	}
	result := RunResult{
		RunID:      runID,
		Scenario:   sc.Name,
		Steps:      e.CurrentStep(),
		FinalCells: len(e.Cells()),
		Digest:     digest,
		Telemetry:  opts.Telemetry,
		Metrics:    opts.Metrics,
	}

	if opts.Metrics != "" {
		if err := writeMetricsFile(opts.Metrics, telemetry.Metrics(events)); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write metrics", err)
		}
	}
	if st != nil {
		if err := st.FinishRun(ctx, runID, digest, result.FinalCells); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to record run", err)
		}
	}

	log.Info("run complete", "run_id", runID, "digest", digest)
	return f.Success(result)
}

// execute runs sc once into memory and returns the event stream.
func execute(ctx context.Context, opts *RootOptions, sc *scenario.Scenario, records []scenario.Record, runID string) ([]telemetry.Event, error) {
	var schedule *scenario.Schedule
	if records != nil {
		schedule = scenario.NewSchedule(records)
	}
	mem := telemetry.NewMemory()
	e, err := engine.New(sc, schedule,
		engine.WithSink(mem),
		engine.WithWorkers(opts.Workers),
		engine.WithLogger(opts.logger()),
		engine.WithRunID(runID),
	)
	if err != nil {
		return nil, err
	}
	if err := e.Run(ctx); err != nil {
		return nil, err
	}
	return mem.Events(), nil
}

// commandContext returns the command's context if available (for testing),
// otherwise a background one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, stopping after the current step", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

func writeMetricsFile(path string, rows []telemetry.MetricsRow) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := telemetry.WriteMetricsCSV(out, rows); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
