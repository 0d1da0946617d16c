package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morphogen/internal/engine"
	"github.com/roach88/morphogen/internal/store"
	"github.com/roach88/morphogen/internal/telemetry"
	"github.com/roach88/morphogen/internal/testutil"
)

func TestRunMissingScenarioFlag(t *testing.T) {
	_, err := runCLI(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "scenario")
}

func TestRunScenarioNotFound(t *testing.T) {
	out, err := runCLI(t, "run", "--scenario", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestRunInvalidScenario(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "scenario.yaml", quietScenario+"bogus: 1\n")

	out, err := runCLI(t, "run", "--scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeInvalidScenario)
}

func TestRunInvalidStimulus(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)
	stim := testutil.WriteFile(t, dir, "stimulus.jsonl", "{\"step\":-1,\"topic\":\"activator\",\"value\":1}\n")

	out, err := runCLI(t, "run", "--scenario", path, "--stimulus", stim)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeInvalidStimulus)
}

func TestRunWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)
	stimulusPath := testutil.WriteFile(t, dir, "stimulus.jsonl", attackStimulus)
	telemetryPath := filepath.Join(dir, "run.jsonl.br")
	metricsPath := filepath.Join(dir, "step_metrics.csv")
	dbPath := filepath.Join(dir, "morphogen.db")

	buf := &bytes.Buffer{}
	opts := &RunOptions{
		RootOptions:    &RootOptions{Format: "json", Workers: 2},
		Scenario:       scenarioPath,
		Stimulus:       stimulusPath,
		Telemetry:      telemetryPath,
		Metrics:        metricsPath,
		Database:       dbPath,
		RunIDGenerator: testutil.NewFixedRunIDGenerator("run-1"),
	}
	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(buf)

	require.NoError(t, runScenario(opts, cmd))

	var result RunResult
	resp := decodeData(t, buf.String(), &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, "quiet", result.Scenario)
	assert.Equal(t, int64(4), result.Steps)
	assert.NotEmpty(t, result.Digest)

	// Telemetry round-trips through brotli and matches the reported digest
	events, err := telemetry.ReadJSONL(telemetryPath)
	require.NoError(t, err)
	digest, err := telemetry.Digest(events)
	require.NoError(t, err)
	assert.Equal(t, result.Digest, digest)
	assert.NotEmpty(t, filterKind(events, telemetry.KindStimulusInjected))

	// One metrics row per step
	f, err := os.Open(metricsPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := telemetry.ReadMetricsCSV(f)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	// The database holds the finished run and its full stream
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Completed)
	assert.Equal(t, result.Digest, runs[0].Digest)
	assert.Equal(t, result.FinalCells, runs[0].FinalCells)

	stored, err := st.Events(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, events, stored)
}

func TestRunTextOutput(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "scenario.yaml", quietScenario)

	out, err := runCLI(t, "run", "--scenario", path)
	require.NoError(t, err)
	assert.Contains(t, out, "(quiet): 4 steps")
	assert.Contains(t, out, "Digest: ")
}

func TestRunDatabaseKeepsRunsApart(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)
	dbPath := filepath.Join(dir, "morphogen.db")

	for _, id := range []string{"run-a", "run-b"} {
		opts := &RunOptions{
			RootOptions:    &RootOptions{Format: "json"},
			Scenario:       scenarioPath,
			Database:       dbPath,
			RunIDGenerator: testutil.NewFixedRunIDGenerator(id),
		}
		cmd := NewRunCommand(opts.RootOptions)
		cmd.SetOut(&bytes.Buffer{})
		require.NoError(t, runScenario(opts, cmd))
	}

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, runs[0].Digest, runs[1].Digest, "equal inputs, equal digests")

	a, err := st.Events(context.Background(), "run-a")
	require.NoError(t, err)
	b, err := st.Events(context.Background(), "run-b")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRunCancelled(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "scenario.yaml", quietScenario)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "--scenario", path})

	err := cmd.ExecuteContext(ctx)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, engine.IsCancelled(err))
	assert.Contains(t, buf.String(), ErrCodeRunFailed)
}

func filterKind(events []telemetry.Event, kind telemetry.Kind) []telemetry.Event {
	var out []telemetry.Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
