package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"

	"github.com/roach88/morphogen/internal/scenario"
	"github.com/roach88/morphogen/internal/store"
)

// RetainedNote marks a candidate re-queued without a mutation.
const RetainedNote = "retained for future mutation"

// breakerTrip is the number of consecutive runner failures that opens the
// breaker and stops the loop.
const breakerTrip = 3

// ErrRunnerUnavailable is returned when the runner breaker is open.
var ErrRunnerUnavailable = errors.New("candidate runner unavailable")

// EvolutionConfig tunes the harness.
type EvolutionConfig struct {
	// BatchSize is the number of candidates run per generation.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MaxGenerations bounds how many outcomes RecentOutcomes returns.
	MaxGenerations int `yaml:"max_generations" json:"max_generations"`

	// RetainElite re-queues candidates that got no mutation.
	RetainElite bool `yaml:"retain_elite" json:"retain_elite"`

	// ArtifactDir receives gen<NNN>/<candidate>/ run directories.
	ArtifactDir string `yaml:"artifact_dir" json:"artifact_dir"`
}

// DefaultEvolutionConfig returns settings for quick smoke runs.
func DefaultEvolutionConfig() EvolutionConfig {
	return EvolutionConfig{
		BatchSize:      3,
		MaxGenerations: 10,
		RetainElite:    true,
		ArtifactDir:    "adversarial_runs",
	}
}

// Candidate is an attack scenario waiting to run.
type Candidate struct {
	ID           string   `json:"id"`
	ScenarioPath string   `json:"scenario_path"`
	StimulusPath string   `json:"stimulus_path,omitempty"`
	Generation   int      `json:"generation"`
	ParentID     string   `json:"parent_id,omitempty"`
	Mutation     Mutation `json:"mutation,omitempty"`
	Note         string   `json:"note,omitempty"`
}

// Outcome is the archived result of one candidate run.
type Outcome struct {
	CandidateID string   `json:"candidate_id"`
	Generation  int      `json:"generation"`
	ParentID    string   `json:"parent_id,omitempty"`
	Fitness     float64  `json:"fitness"`
	Breach      bool     `json:"breach"`
	Mutation    Mutation `json:"mutation,omitempty"`
	Notes       string   `json:"notes"`
	Seq         int64    `json:"seq"`
}

// Evaluation is everything learned from running one candidate.
type Evaluation struct {
	Candidate    Candidate  `json:"candidate"`
	Outcome      Outcome    `json:"outcome"`
	Analysis     Analysis   `json:"analysis"`
	Report       Report     `json:"report"`
	FollowUp     *Candidate `json:"follow_up,omitempty"`
	BacklogAfter int        `json:"backlog_after"`
}

// Harness evolves attack candidates against the kernel.
//
// Thread-safety: Harness is not safe for concurrent use. The evolve loop
// runs candidates one at a time so that artifacts and outcome order are
// reproducible.
type Harness struct {
	cfg     EvolutionConfig
	runner  Runner
	store   *store.Store
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker

	backlog []Candidate
	archive []Outcome
	seq     int64
}

// Option configures a Harness.
type Option func(*Harness)

// WithStore archives outcomes in s as well as in memory.
func WithStore(s *store.Store) Option {
	return func(h *Harness) {
		h.store = s
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a harness that executes candidates with runner.
func New(cfg EvolutionConfig, runner Runner, opts ...Option) *Harness {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	h := &Harness{
		cfg:    cfg,
		runner: runner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "harness")
	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "candidate-runner",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.logger.Warn("runner breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return h
}

// Config returns the harness configuration.
func (h *Harness) Config() EvolutionConfig {
	return h.cfg
}

// BacklogLen returns the number of queued candidates.
func (h *Harness) BacklogLen() int {
	return len(h.backlog)
}

// Enqueue adds c to the back of the backlog.
func (h *Harness) Enqueue(c Candidate) {
	h.backlog = append(h.backlog, c)
}

// NextBatch removes and returns up to BatchSize candidates in queue order.
func (h *Harness) NextBatch() []Candidate {
	n := min(h.cfg.BatchSize, len(h.backlog))
	batch := append([]Candidate(nil), h.backlog[:n]...)
	h.backlog = h.backlog[n:]
	return batch
}

// Resume loads the most recent archived outcomes from the store so that
// sequence numbers continue where an earlier session stopped.
func (h *Harness) Resume(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	rows, err := h.store.Outcomes(ctx, h.cfg.MaxGenerations)
	if err != nil {
		return fmt.Errorf("resume harness: %w", err)
	}
	h.archive = h.archive[:0]
	for i := len(rows) - 1; i >= 0; i-- {
		o := fromRecord(rows[i])
		h.archive = append(h.archive, o)
		h.seq = max(h.seq, o.Seq)
	}
	h.logger.Info("harness resumed", "outcomes", len(h.archive), "seq", h.seq)
	return nil
}

// RecordOutcome assigns o the next sequence number and archives it.
func (h *Harness) RecordOutcome(ctx context.Context, o Outcome) (Outcome, error) {
	h.seq++
	o.Seq = h.seq
	h.archive = append(h.archive, o)
	if h.store != nil {
		if err := h.store.WriteOutcome(ctx, o.record()); err != nil {
			return o, fmt.Errorf("archive outcome: %w", err)
		}
	}
	return o, nil
}

// RecentOutcomes returns archived outcomes newest first, at most
// MaxGenerations of them.
func (h *Harness) RecentOutcomes() []Outcome {
	limit := len(h.archive)
	if h.cfg.MaxGenerations >= 0 {
		limit = min(limit, h.cfg.MaxGenerations)
	}
	out := make([]Outcome, 0, limit)
	for i := len(h.archive) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.archive[i])
	}
	return out
}

// Evaluate scores a finished run of c, archives the outcome, and queues
// either a mutated follow-up or, with RetainElite, c itself.
//
// The follow-up's stimulus is written to report.Dir.
func (h *Harness) Evaluate(ctx context.Context, c Candidate, report Report) (Evaluation, error) {
	analysis, err := Analyze(report.Rows)
	if err != nil {
		return Evaluation{}, fmt.Errorf("analyze candidate %s: %w", c.ID, err)
	}

	outcome, err := h.RecordOutcome(ctx, Outcome{
		CandidateID: c.ID,
		Generation:  c.Generation,
		ParentID:    c.ParentID,
		Fitness:     analysis.Fitness,
		Breach:      analysis.Breach,
		Mutation:    analysis.Mutation,
		Notes:       analysis.Note(),
	})
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{Candidate: c, Outcome: outcome, Analysis: analysis, Report: report}
	switch {
	case analysis.Mutation != MutationNone:
		next, err := h.mutant(c, analysis, report)
		if err != nil {
			return Evaluation{}, err
		}
		h.Enqueue(next)
		ev.FollowUp = &next
	case h.cfg.RetainElite:
		c.Note = RetainedNote
		h.Enqueue(c)
	}
	ev.BacklogAfter = h.BacklogLen()

	h.logger.Info("candidate evaluated",
		"candidate", c.ID,
		"generation", c.Generation,
		"fitness", analysis.Fitness,
		"breach", analysis.Breach,
		"mutation", string(analysis.Mutation),
		"backlog", ev.BacklogAfter,
	)
	return ev, nil
}

func (h *Harness) mutant(c Candidate, analysis Analysis, report Report) (Candidate, error) {
	var records []scenario.Record
	if c.StimulusPath != "" {
		sched, err := scenario.LoadSchedule(c.StimulusPath)
		if err != nil {
			return Candidate{}, fmt.Errorf("load stimulus for %s: %w", c.ID, err)
		}
		records = sched.Records()
	}
	mutated := MutateStimulus(records, analysis.Mutation, analysis.Statistics.StepCount)

	if report.Dir == "" {
		return Candidate{}, fmt.Errorf("candidate %s: report has no artifact directory", c.ID)
	}
	path := filepath.Join(report.Dir, mutantStimulusFile)
	f, err := os.Create(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("create mutant stimulus: %w", err)
	}
	if err := scenario.WriteRecords(f, mutated); err != nil {
		f.Close()
		return Candidate{}, err
	}
	if err := f.Close(); err != nil {
		return Candidate{}, fmt.Errorf("close mutant stimulus: %w", err)
	}

	gen := c.Generation + 1
	return Candidate{
		ID:           fmt.Sprintf("%s-mut%d", c.ID, gen),
		ScenarioPath: c.ScenarioPath,
		StimulusPath: path,
		Generation:   gen,
		ParentID:     c.ID,
		Mutation:     analysis.Mutation,
		Note:         analysis.Mutation.Description(),
	}, nil
}

// RunGenerations runs up to generations batches. A failed candidate is
// logged and dropped; after three consecutive failures the breaker opens
// and the loop stops with ErrRunnerUnavailable.
func (h *Harness) RunGenerations(ctx context.Context, generations int) ([]Evaluation, error) {
	var evals []Evaluation
	for g := 0; g < generations; g++ {
		batch := h.NextBatch()
		if len(batch) == 0 {
			h.logger.Info("backlog empty", "generation", g)
			break
		}
		for _, c := range batch {
			if err := ctx.Err(); err != nil {
				return evals, err
			}
			ev, err := h.runOne(ctx, c)
			if errors.Is(err, gobreaker.ErrOpenState) {
				return evals, fmt.Errorf("%w: %v", ErrRunnerUnavailable, err)
			}
			if err != nil {
				h.logger.Warn("candidate failed", "candidate", c.ID, "error", err)
				continue
			}
			evals = append(evals, ev)
		}
	}
	return evals, nil
}

func (h *Harness) runOne(ctx context.Context, c Candidate) (Evaluation, error) {
	dir := filepath.Join(h.cfg.ArtifactDir, fmt.Sprintf("gen%03d", c.Generation), c.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Evaluation{}, fmt.Errorf("create run directory: %w", err)
	}

	res, err := h.breaker.Execute(func() (interface{}, error) {
		return h.runner.Run(ctx, c, dir)
	})
	if err != nil {
		return Evaluation{}, err
	}
	return h.Evaluate(ctx, c, res.(Report))
}

func (o Outcome) record() store.Outcome {
	return store.Outcome{
		CandidateID: o.CandidateID,
		Generation:  o.Generation,
		ParentID:    o.ParentID,
		Fitness:     o.Fitness,
		Breach:      o.Breach,
		Mutation:    string(o.Mutation),
		Notes:       o.Notes,
		Seq:         o.Seq,
	}
}

func fromRecord(r store.Outcome) Outcome {
	return Outcome{
		CandidateID: r.CandidateID,
		Generation:  r.Generation,
		ParentID:    r.ParentID,
		Fitness:     r.Fitness,
		Breach:      r.Breach,
		Mutation:    Mutation(r.Mutation),
		Notes:       r.Notes,
		Seq:         r.Seq,
	}
}
