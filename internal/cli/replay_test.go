package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morphogen/internal/testutil"
)

func TestReplayDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)
	stim := testutil.WriteFile(t, dir, "stimulus.jsonl", attackStimulus)

	out, err := runCLI(t, "--workers", "4", "replay", "--scenario", path, "--stimulus", stim)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Deterministic")
}

func TestReplayMatchesRecordedTelemetry(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)
	stim := testutil.WriteFile(t, dir, "stimulus.jsonl", attackStimulus)
	recorded := filepath.Join(dir, "run.jsonl")

	_, err := runCLI(t, "--workers", "1", "run", "--scenario", path, "--stimulus", stim, "--telemetry", recorded)
	require.NoError(t, err)

	out, err := runCLI(t, "--format", "json", "--workers", "8", "replay",
		"--scenario", path, "--stimulus", stim, "--telemetry", recorded)
	require.NoError(t, err)

	var result ReplayResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Deterministic)
	assert.Equal(t, result.FirstDigest, result.Recorded)
	assert.Equal(t, recorded, result.RecordedFrom)
}

func TestReplayDetectsDivergence(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)
	stim := testutil.WriteFile(t, dir, "stimulus.jsonl", attackStimulus)
	recorded := filepath.Join(dir, "run.jsonl")

	_, err := runCLI(t, "run", "--scenario", path, "--stimulus", stim, "--telemetry", recorded)
	require.NoError(t, err)

	// Replaying without the stimulus cannot reproduce the recording
	out, err := runCLI(t, "--format", "json", "replay", "--scenario", path, "--telemetry", recorded)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNonDeterministic)
}

func TestReplayAgainstDatabase(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)
	dbPath := filepath.Join(dir, "morphogen.db")

	out, err := runCLI(t, "--format", "json", "run", "--scenario", path, "--db", dbPath)
	require.NoError(t, err)
	var run RunResult
	decodeData(t, out, &run)
	require.NotEmpty(t, run.RunID)

	out, err = runCLI(t, "replay", "--scenario", path, "--db", dbPath, "--run", run.RunID)
	require.NoError(t, err)
	assert.Contains(t, out, run.Digest)
	assert.Contains(t, out, "✓ Deterministic")

	_, err = runCLI(t, "replay", "--scenario", path, "--db", dbPath, "--run", "no-such-run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayRequiresRunWithDatabase(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "scenario.yaml", quietScenario)

	_, err := runCLI(t, "replay", "--scenario", path, "--db", "x.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run")
}

func TestReplayTelemetryNotFound(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)

	_, err := runCLI(t, "replay", "--scenario", path, "--telemetry", filepath.Join(dir, "missing.jsonl"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
