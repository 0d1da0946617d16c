package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/roach88/morphogen/internal/engine"
	"github.com/roach88/morphogen/internal/scenario"
	"github.com/roach88/morphogen/internal/telemetry"
)

// Artifact file names inside a run directory.
const (
	telemetryFile      = "telemetry.jsonl"
	metricsFile        = "step_metrics.csv"
	stimulusFile       = "stimulus.jsonl"
	mutantStimulusFile = "mutant_stimulus.jsonl"
)

// Report locates the artifacts of one candidate run.
type Report struct {
	Dir           string                 `json:"dir"`
	TelemetryPath string                 `json:"telemetry_path"`
	MetricsPath   string                 `json:"metrics_path"`
	StimulusPath  string                 `json:"stimulus_path,omitempty"`
	Rows          []telemetry.MetricsRow `json:"-"`
}

// Runner executes a candidate, leaving its artifacts in dir.
type Runner interface {
	Run(ctx context.Context, c Candidate, dir string) (Report, error)
}

// ProcessRunner runs each candidate as a `morphogen run` child process.
type ProcessRunner struct {
	// Binary is the morphogen executable.
	Binary string

	// Args are extra arguments placed before the run subcommand flags,
	// e.g. a global --verbose.
	Args []string

	Logger *slog.Logger
}

// Run invokes the binary and parses the metrics CSV it writes.
func (r *ProcessRunner) Run(ctx context.Context, c Candidate, dir string) (Report, error) {
	report, err := prepare(c, dir)
	if err != nil {
		return Report{}, err
	}

	args := append([]string(nil), r.Args...)
	args = append(args, "run",
		"--scenario", c.ScenarioPath,
		"--telemetry", report.TelemetryPath,
		"--metrics", report.MetricsPath,
	)
	if report.StimulusPath != "" {
		args = append(args, "--stimulus", report.StimulusPath)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	logger(r.Logger).Debug("spawning candidate run", "candidate", c.ID, "binary", r.Binary, "dir", dir)
	if err := cmd.Run(); err != nil {
		return Report{}, fmt.Errorf("run candidate %s: %w: %s", c.ID, err, strings.TrimSpace(stderr.String()))
	}

	if report.Rows, err = readMetrics(report.MetricsPath); err != nil {
		return Report{}, fmt.Errorf("candidate %s: %w", c.ID, err)
	}
	return report, nil
}

// InProcessRunner runs candidates on an engine inside this process.
type InProcessRunner struct {
	// Workers bounds tick evaluation goroutines; zero uses the default.
	Workers int

	Logger *slog.Logger
}

// Run loads the candidate's scenario and stimulus and runs it to the end.
func (r *InProcessRunner) Run(ctx context.Context, c Candidate, dir string) (Report, error) {
	report, err := prepare(c, dir)
	if err != nil {
		return Report{}, err
	}

	sc, err := scenario.Load(c.ScenarioPath)
	if err != nil {
		return Report{}, err
	}
	var schedule *scenario.Schedule
	if report.StimulusPath != "" {
		if schedule, err = scenario.LoadSchedule(report.StimulusPath); err != nil {
			return Report{}, err
		}
	}

	file, err := telemetry.CreateJSONL(report.TelemetryPath)
	if err != nil {
		return Report{}, err
	}
	mem := telemetry.NewMemory()
	sink := telemetry.NewPipeline(file, mem)

	e, err := engine.New(sc, schedule,
		engine.WithSink(sink),
		engine.WithWorkers(r.Workers),
		engine.WithLogger(logger(r.Logger)),
		engine.WithRunID(c.ID),
	)
	if err != nil {
		sink.Close()
		return Report{}, err
	}
	runErr := e.Run(ctx)
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return Report{}, runErr
	}

	report.Rows = telemetry.Metrics(mem.Events())
	if err := writeMetrics(report.MetricsPath, report.Rows); err != nil {
		return Report{}, err
	}
	return report, nil
}

// prepare lays out the run directory and copies the candidate stimulus
// into it, so every run directory is self-contained.
func prepare(c Candidate, dir string) (Report, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create run directory: %w", err)
	}
	report := Report{
		Dir:           dir,
		TelemetryPath: filepath.Join(dir, telemetryFile),
		MetricsPath:   filepath.Join(dir, metricsFile),
	}
	if c.StimulusPath == "" {
		return report, nil
	}

	data, err := os.ReadFile(c.StimulusPath)
	if err != nil {
		return Report{}, fmt.Errorf("stimulus schedule %q not found: %w", c.StimulusPath, err)
	}
	report.StimulusPath = filepath.Join(dir, stimulusFile)
	if err := os.WriteFile(report.StimulusPath, data, 0o644); err != nil {
		return Report{}, fmt.Errorf("copy stimulus: %w", err)
	}
	return report, nil
}

func readMetrics(path string) ([]telemetry.MetricsRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metrics: %w", err)
	}
	defer f.Close()
	return telemetry.ReadMetricsCSV(f)
}

func writeMetrics(path string, rows []telemetry.MetricsRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}
	if err := telemetry.WriteMetricsCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
