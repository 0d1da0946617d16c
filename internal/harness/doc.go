// Package harness evolves adversarial stimulus schedules against the
// kernel.
//
// A Candidate pairs a scenario file with a stimulus schedule. The harness
// keeps a FIFO backlog of candidates and runs them a batch at a time:
//
//  1. NextBatch pops up to BatchSize candidates
//  2. A Runner executes each one into gen<NNN>/<id>/ under ArtifactDir,
//     leaving telemetry.jsonl, step_metrics.csv and stimulus.jsonl
//  3. Analyze folds the metrics into RunStatistics, a fitness score, a
//     breach verdict and a recommended Mutation
//  4. Evaluate archives the Outcome and queues the mutated follow-up
//     "<id>-mut<gen>", or re-queues the candidate itself when RetainElite
//     is set and nothing was recommended
//
// # Fitness
//
//	fitness = 0.45*clamp(avg_threat/1.5)
//	        + 0.25*max(0, 1-min(1, replications/steps))
//	        + 0.2*cell_loss
//	        + 0.1*clamp(total_stimulus/(steps*1.5))
//
// where cell_loss = (max_cells-min_cells)/max_cells. A breach is
// fitness > 0.7, max threat > 1.1 or cell_loss > 0.4.
//
// # Runners
//
// ProcessRunner spawns `morphogen run` per candidate, which is how the
// evolve command isolates runs. InProcessRunner drives an engine directly
// and is used by tests and embedding code. Both sit behind a circuit
// breaker: three consecutive failures stop the loop.
//
// Outcomes are archived in memory and, with WithStore, in SQLite. Resume
// reloads the archive so sequence numbers survive restarts. The backlog
// itself is not persisted.
package harness
