package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morphogen/internal/telemetry"
	"github.com/roach88/morphogen/internal/testutil"
)

func writeMetricsCSV(t *testing.T, path string, rows []telemetry.MetricsRow) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, telemetry.WriteMetricsCSV(f, rows))
	require.NoError(t, f.Close())
}

func TestReportTelemetryAndMetricsAgree(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)
	stim := testutil.WriteFile(t, dir, "stimulus.jsonl", attackStimulus)
	telemetryPath := filepath.Join(dir, "run.jsonl.br")
	metricsPath := filepath.Join(dir, "step_metrics.csv")

	_, err := runCLI(t, "run", "--scenario", path, "--stimulus", stim,
		"--telemetry", telemetryPath, "--metrics", metricsPath)
	require.NoError(t, err)

	var fromTelemetry, fromMetrics ReportResult
	out, err := runCLI(t, "--format", "json", "report", telemetryPath)
	require.NoError(t, err)
	decodeData(t, out, &fromTelemetry)

	out, err = runCLI(t, "--format", "json", "report", metricsPath)
	require.NoError(t, err)
	decodeData(t, out, &fromMetrics)

	require.NotNil(t, fromTelemetry.Run)
	require.NotNil(t, fromMetrics.Run)
	assert.Nil(t, fromTelemetry.Archive)
	assert.Equal(t, 4, fromTelemetry.Run.Analysis.Statistics.StepCount)
	assert.InDelta(t, 0.8, fromTelemetry.Run.Analysis.Statistics.TotalStimulus, 1e-9)
	assert.Equal(t, fromTelemetry.Run.Analysis, fromMetrics.Run.Analysis)
	assert.Equal(t, fromTelemetry.Run.Note, fromMetrics.Run.Note)
}

func TestReportText(t *testing.T) {
	metricsPath := filepath.Join(t.TempDir(), "step_metrics.csv")
	writeMetricsCSV(t, metricsPath, []telemetry.MetricsRow{
		{Step: 0, Threat: 0.2, CellCount: 2},
		{Step: 1, Threat: 0.4, CellCount: 3, Replications: 1},
	})

	out, err := runCLI(t, "report", metricsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "steps=2 cells=2..3")
	assert.Contains(t, out, "fitness=")
	assert.Contains(t, out, "avg_threat=0.30")
}

func TestReportFailOnBreach(t *testing.T) {
	metricsPath := filepath.Join(t.TempDir(), "step_metrics.csv")
	writeMetricsCSV(t, metricsPath, []telemetry.MetricsRow{
		{Step: 0, Threat: 0.5, CellCount: 4},
		{Step: 1, Threat: 1.5, CellCount: 1},
	})

	_, err := runCLI(t, "report", metricsPath)
	require.NoError(t, err)

	out, err := runCLI(t, "report", metricsPath, "--fail-on-breach")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "breach=true")
}

func TestReportEmptyMetrics(t *testing.T) {
	metricsPath := filepath.Join(t.TempDir(), "step_metrics.csv")
	writeMetricsCSV(t, metricsPath, nil)

	_, err := runCLI(t, "report", metricsPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, telemetry.ErrEmptyMetrics)
}

func TestReportDatabase(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)
	dbPath := filepath.Join(dir, "morphogen.db")

	_, err := runCLI(t, "run", "--scenario", path, "--db", dbPath)
	require.NoError(t, err)
	_, err = runCLI(t, "evolve", "--seed", "quiet="+path, "--in-process",
		"--artifact-dir", filepath.Join(dir, "runs"), "--db", dbPath)
	require.NoError(t, err)

	out, err := runCLI(t, "--format", "json", "report", "--db", dbPath)
	require.NoError(t, err)

	var result ReportResult
	decodeData(t, out, &result)
	assert.Nil(t, result.Run)
	require.NotNil(t, result.Archive)
	require.Len(t, result.Archive.Runs, 1)
	assert.Equal(t, "quiet", result.Archive.Runs[0].Scenario)
	assert.True(t, result.Archive.Runs[0].Completed)
	require.Len(t, result.Archive.Outcomes, 1)
	assert.Equal(t, "quiet", result.Archive.Outcomes[0].CandidateID)

	out, err = runCLI(t, "report", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Runs (1):")
	assert.Contains(t, out, "Outcomes (1):")
}

func TestReportNothingToDo(t *testing.T) {
	_, err := runCLI(t, "report")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReportNotFound(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, "report", filepath.Join(dir, "missing.jsonl"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)

	_, err = runCLI(t, "report", "--db", filepath.Join(dir, "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
