package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/morphogen/internal/telemetry"
)

// Run describes one executed scenario.
type Run struct {
	ID         string
	Scenario   string
	Seed       int64
	Steps      int64
	Completed  bool
	FinalCells int
	Digest     string
}

// Outcome is one archived adversarial candidate evaluation.
type Outcome struct {
	CandidateID string
	Generation  int
	ParentID    string
	Fitness     float64
	Breach      bool
	Mutation    string
	Notes       string
	Seq         int64
}

// BeginRun inserts the run row. Re-inserting an existing id is a no-op.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, seed, steps)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.Scenario, run.Seed, run.Steps)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun marks a run completed and stores its telemetry digest.
func (s *Store) FinishRun(ctx context.Context, runID, digest string, finalCells int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET completed = 1, digest = ?, final_cells = ?
		WHERE id = ?
	`, digest, finalCells, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// WriteEvents appends events to a run in one transaction.
// Events already stored under the same (run_id, seq) are skipped.
func (s *Store) WriteEvents(ctx context.Context, runID string, events []telemetry.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (run_id, seq, step, kind, cell, peer, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event seq=%d: %w", ev.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, ev.Seq, ev.Step, string(ev.Kind), ev.Cell, ev.Peer, string(payload)); err != nil {
			return fmt.Errorf("insert event seq=%d: %w", ev.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

// WriteOutcome archives a harness evaluation.
// Each sequence number is archived once; a repeated write is ignored.
func (s *Store) WriteOutcome(ctx context.Context, o Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (candidate_id, generation, parent_id, fitness, breach, mutation, notes, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, o.CandidateID, o.Generation, o.ParentID, o.Fitness, boolToInt(o.Breach), o.Mutation, o.Notes, o.Seq)
	if err != nil {
		return fmt.Errorf("insert outcome %s: %w", o.CandidateID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
