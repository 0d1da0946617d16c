package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/morphogen/internal/telemetry"
)

// Events returns every stored event of a run ordered by seq.
func (s *Store) Events(ctx context.Context, runID string) ([]telemetry.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev telemetry.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// EventsOfKind returns a run's events of one kind ordered by seq.
func (s *Store) EventsOfKind(ctx context.Context, runID string, kind telemetry.Kind) ([]telemetry.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM events
		WHERE run_id = ? AND kind = ?
		ORDER BY seq ASC
	`, runID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query events of kind %s: %w", kind, err)
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev telemetry.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Runs returns every stored run ordered by id. UUIDv7 ids sort by creation.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario, seed, steps, completed, final_cells, digest
		FROM runs
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var completed int
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Seed, &r.Steps, &completed, &r.FinalCells, &r.Digest); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Completed = completed != 0
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Outcomes returns the most recent archived outcomes, newest first.
// A limit <= 0 returns all of them.
func (s *Store) Outcomes(ctx context.Context, limit int) ([]Outcome, error) {
	query := `
		SELECT candidate_id, generation, parent_id, fitness, breach, mutation, notes, seq
		FROM outcomes
		ORDER BY seq DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		var breach int
		if err := rows.Scan(&o.CandidateID, &o.Generation, &o.ParentID, &o.Fitness, &breach, &o.Mutation, &o.Notes, &o.Seq); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Breach = breach != 0
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}
