// Package engine implements the population orchestrator.
//
// The engine owns every cell, the signal bus, the topology, the consensus
// ledger and the attestation authority, and advances them one step at a
// time.
//
// ARCHITECTURE:
//
// Two-phase step:
// Cell decisions are pure functions of a snapshot, so every live cell is
// ticked concurrently (bounded by WithWorkers). Their actions are then
// applied one cell at a time in ascending id order. All shared state is
// mutated only in the sequential phases.
//
// Step phases:
//  1. Collect: scheduled stimuli and threat spikes are published
//  2. Aggregate: the bus is drained and routed; consensus signals verified
//  3. Evaluate: cell.Tick for every live cell (parallel)
//  4. Apply: births, links, votes, signals, deaths (sequential)
//  5. Trust and consensus: trust updates, vote recording, quarantine
//  6. Purge: dead cells leave every structure
//  7. Cap: the population limit is re-checked
//  8. Summary: one step_summary event closes the step
//
// CRITICAL PATTERNS:
//
// Logical clock:
// Every event is stamped by Clock with a sequence number and the step number.
// NEVER use wall-clock timestamps in telemetry.
//
// Deterministic scheduling:
// Maps are always walked in sorted key order. The seeded random source is
// used only by the apply phase. Parallel results are stored by index, so
// completion order of the workers never shows.
package engine
