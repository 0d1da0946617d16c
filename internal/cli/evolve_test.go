package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morphogen/internal/harness"
	"github.com/roach88/morphogen/internal/store"
	"github.com/roach88/morphogen/internal/testutil"
)

func TestParseSeeds(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []harness.Candidate
		wantErr string
	}{
		{
			name: "equals and colon",
			args: []string{"a=one.yaml", "b:two.yaml"},
			want: []harness.Candidate{
				{ID: "a", ScenarioPath: "one.yaml", StimulusPath: "s.jsonl"},
				{ID: "b", ScenarioPath: "two.yaml", StimulusPath: "s.jsonl"},
			},
		},
		{
			name: "path with colon after equals",
			args: []string{"c=dir:x/three.yaml"},
			want: []harness.Candidate{{ID: "c", ScenarioPath: "dir:x/three.yaml", StimulusPath: "s.jsonl"}},
		},
		{name: "missing path", args: []string{"a="}, wantErr: "want id=scenario.yaml"},
		{name: "no separator", args: []string{"scenario.yaml"}, wantErr: "want id=scenario.yaml"},
		{name: "duplicate", args: []string{"a=x.yaml", "a=y.yaml"}, wantErr: "duplicate seed id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSeeds(tt.args, "s.jsonl")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvolveInProcess(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)
	stim := testutil.WriteFile(t, dir, "stimulus.jsonl", attackStimulus)
	artifacts := filepath.Join(dir, "runs")
	dbPath := filepath.Join(dir, "morphogen.db")

	args := []string{"--format", "json", "evolve",
		"--seed", "quiet=" + path,
		"--stimulus", stim,
		"--in-process",
		"--generations", "2",
		"--artifact-dir", artifacts,
		"--db", dbPath,
	}
	out, err := runCLI(t, args...)
	require.NoError(t, err)

	var result EvolveResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, result.Evaluations)

	first := result.Evaluations[0]
	assert.Equal(t, "quiet", first.Candidate.ID)
	assert.Equal(t, 0, first.Candidate.Generation)
	assert.Equal(t, int64(1), first.Outcome.Seq)
	assert.FileExists(t, filepath.Join(artifacts, "gen000", "quiet", "telemetry.jsonl"))
	assert.FileExists(t, filepath.Join(artifacts, "gen000", "quiet", "step_metrics.csv"))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	archived, err := st.Outcomes(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.Len(t, archived, len(result.Evaluations))

	// A second session continues the archive numbering
	out, err = runCLI(t, args...)
	require.NoError(t, err)
	var again EvolveResult
	decodeData(t, out, &again)
	require.NotEmpty(t, again.Evaluations)
	assert.Equal(t, int64(len(archived)+1), again.Evaluations[0].Outcome.Seq)
}

func TestEvolveScenarioNotFound(t *testing.T) {
	out, err := runCLI(t, "evolve", "--seed", "x="+filepath.Join(t.TempDir(), "missing.yaml"), "--in-process")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestEvolveBadSeed(t *testing.T) {
	_, err := runCLI(t, "evolve", "--seed", "nonsense")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEvolveBrokenRunnerTripsBreaker(t *testing.T) {
	if _, err := os.Stat("/bin/false"); err != nil {
		t.Skip("/bin/false not available")
	}
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "scenario.yaml", quietScenario)

	args := []string{"evolve", "--binary", "/bin/false", "--batch-size", "4", "--artifact-dir", filepath.Join(dir, "runs")}
	for _, id := range []string{"a", "b", "c", "d"} {
		args = append(args, "--seed", id+"="+path)
	}

	out, err := runCLI(t, args...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, harness.ErrRunnerUnavailable)
	assert.Contains(t, out, ErrCodeRunnerFailed)
}
