package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morphogen/internal/telemetry"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer st.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}
}

func TestOpen_Pragmas(t *testing.T) {
	st := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
		"user_version": "2",
	} {
		if err := st.verifyPragma(name, want); err != nil {
			t.Errorf("verifyPragma(%s): %v", name, err)
		}
	}
}

func TestOpen_MigratesOlderDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := Open(dbPath)
	require.NoError(t, err)
	_, err = st.DB().Exec("DROP INDEX idx_outcomes_candidate")
	require.NoError(t, err)
	_, err = st.DB().Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.verifyPragma("user_version", "2"))
	var n int
	require.NoError(t, st.DB().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_outcomes_candidate'",
	).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpen_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	st, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.BeginRun(ctx, Run{ID: "run-1", Scenario: "baseline", Seed: 7, Steps: 3}))
	require.NoError(t, st.Close())

	st, err = Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "baseline", runs[0].Scenario)
}

func TestRun_Lifecycle(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.BeginRun(ctx, Run{ID: "run-1", Scenario: "spike", Seed: 42, Steps: 5}))
	require.NoError(t, st.BeginRun(ctx, Run{ID: "run-1", Scenario: "ignored", Seed: 1, Steps: 1}))
	require.NoError(t, st.FinishRun(ctx, "run-1", "abc123", 4))

	runs, err := st.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, Run{ID: "run-1", Scenario: "spike", Seed: 42, Steps: 5, Completed: true, FinalCells: 4, Digest: "abc123"}, runs[0])
}

func TestFinishRun_Unknown(t *testing.T) {
	st := createTestStore(t)
	err := st.FinishRun(context.Background(), "missing", "", 0)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestWriteEvents_OrderedAndIdempotent(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.BeginRun(ctx, Run{ID: "run-1", Scenario: "baseline"}))

	events := []telemetry.Event{
		{Seq: 2, Step: 0, Kind: telemetry.KindCellReplicated, Cell: "cell-00000", Peer: "cell-00001", Lineage: "base"},
		{Seq: 1, Step: 0, Kind: telemetry.KindScenario, Scenario: &telemetry.ScenarioInfo{Name: "baseline", Steps: 1}},
		{Seq: 3, Step: 0, Kind: telemetry.KindStepSummary, Summary: &telemetry.StepSummary{Threat: 0.1, CellCount: 2}},
	}
	require.NoError(t, st.WriteEvents(ctx, "run-1", events))
	require.NoError(t, st.WriteEvents(ctx, "run-1", events))

	got, err := st.Events(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.Equal(t, events[0], got[1])

	summaries, err := st.EventsOfKind(ctx, "run-1", telemetry.KindStepSummary)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].Summary.CellCount)
}

func TestWriteEvents_RequiresRun(t *testing.T) {
	st := createTestStore(t)
	err := st.WriteEvents(context.Background(), "nope", []telemetry.Event{{Seq: 1, Kind: telemetry.KindScenario}})
	assert.Error(t, err, "foreign key should reject events for unknown runs")
}

func TestOutcomes_NewestFirst(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"cand-a", "cand-b", "cand-c"} {
		require.NoError(t, st.WriteOutcome(ctx, Outcome{
			CandidateID: id,
			Generation:  i,
			Fitness:     float64(i) / 2,
			Breach:      i == 2,
			Seq:         int64(i + 1),
		}))
	}
	// Rewriting a sequence number is a no-op
	require.NoError(t, st.WriteOutcome(ctx, Outcome{CandidateID: "cand-x", Fitness: 99, Seq: 2}))
	// A retained candidate is archived again under a new sequence number
	require.NoError(t, st.WriteOutcome(ctx, Outcome{CandidateID: "cand-a", Generation: 3, Fitness: 0.25, Seq: 4}))

	all, err := st.Outcomes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "cand-a", all[0].CandidateID)
	assert.Equal(t, 3, all[0].Generation)
	assert.Equal(t, "cand-c", all[1].CandidateID)
	assert.True(t, all[1].Breach)
	assert.Equal(t, "cand-b", all[2].CandidateID)
	assert.InDelta(t, 0.0, all[3].Fitness, 1e-9)

	recent, err := st.Outcomes(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestEventSink_FlushesOnBatchAndClose(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.BeginRun(ctx, Run{ID: "run-1", Scenario: "baseline"}))

	sink := st.NewEventSink("run-1")
	sink.batch = 2
	for i := int64(1); i <= 5; i++ {
		sink.Record(telemetry.Event{Seq: i, Kind: telemetry.KindStepSummary, Step: i - 1})
	}

	flushed, err := st.Events(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, flushed, 4)

	require.NoError(t, sink.Close())
	all, err := st.Events(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestEventSink_RemembersError(t *testing.T) {
	st := createTestStore(t)
	sink := st.NewEventSink("unknown-run")
	sink.Record(telemetry.Event{Seq: 1, Kind: telemetry.KindScenario})

	err := sink.Close()
	require.Error(t, err)
	assert.Equal(t, err, sink.Err())
}
