package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/morphogen/internal/harness"
	"github.com/roach88/morphogen/internal/store"
)

// EvolveOptions holds flags for the evolve command.
type EvolveOptions struct {
	*RootOptions
	Seeds       []string
	Stimulus    string
	Generations int
	Config      harness.EvolutionConfig
	Database    string
	InProcess   bool
	Binary      string
}

// EvolveResult summarizes an evolve session.
type EvolveResult struct {
	Evaluations []harness.Evaluation `json:"evaluations"`
	Breaches    int                  `json:"breaches"`
	Backlog     int                  `json:"backlog"`
}

func (r EvolveResult) String() string {
	var b strings.Builder
	for _, ev := range r.Evaluations {
		next := "-"
		if ev.Outcome.Mutation != harness.MutationNone {
			next = string(ev.Outcome.Mutation)
		}
		fmt.Fprintf(&b, "gen %03d  %-32s fitness=%.3f breach=%-5t next=%s\n",
			ev.Candidate.Generation, ev.Candidate.ID, ev.Outcome.Fitness, ev.Outcome.Breach, next)
	}
	fmt.Fprintf(&b, "%d candidate(s) evaluated, %d breach(es), %d queued", len(r.Evaluations), r.Breaches, r.Backlog)
	return b.String()
}

// NewEvolveCommand creates the evolve command.
func NewEvolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvolveOptions{RootOptions: rootOpts, Config: harness.DefaultEvolutionConfig()}

	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Evolve adversarial stimulus against the kernel",
		Long: `Run seed attack scenarios, score each run, and mutate the stimulus of
promising candidates into the next generation.

Each candidate runs as a child "morphogen run" process unless --in-process
is given. Outcomes are archived to --db when set, and a later session
against the same database resumes their numbering.

Example:
  morphogen evolve --seed baseline=scenario.yaml --generations 3
  morphogen evolve --seed a=scenario.yaml --seed b=mesh.yaml \
    --stimulus attack.jsonl --db morphogen.db --artifact-dir runs`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvolve(opts, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Seeds, "seed", nil, "seed candidate as id=scenario.yaml (repeatable, required)")
	cmd.Flags().StringVar(&opts.Stimulus, "stimulus", "", "stimulus schedule shared by every seed")
	cmd.Flags().IntVar(&opts.Generations, "generations", 1, "number of batches to run")
	cmd.Flags().IntVar(&opts.Config.BatchSize, "batch-size", opts.Config.BatchSize, "candidates per generation")
	cmd.Flags().IntVar(&opts.Config.MaxGenerations, "max-generations", opts.Config.MaxGenerations, "outcomes kept in the recent window")
	cmd.Flags().BoolVar(&opts.Config.RetainElite, "retain-elite", opts.Config.RetainElite, "re-queue candidates with no recommended mutation")
	cmd.Flags().StringVar(&opts.Config.ArtifactDir, "artifact-dir", opts.Config.ArtifactDir, "directory for per-candidate run artifacts")
	cmd.Flags().StringVar(&opts.Database, "db", "", "archive outcomes to this SQLite database")
	cmd.Flags().BoolVar(&opts.InProcess, "in-process", false, "run candidates inside this process")
	cmd.Flags().StringVar(&opts.Binary, "binary", "", "morphogen executable for child runs (default: this executable)")
	_ = cmd.MarkFlagRequired("seed")

	return cmd
}

func runEvolve(opts *EvolveOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	log := opts.logger()

	seeds, err := parseSeeds(opts.Seeds, opts.Stimulus)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "invalid --seed", err)
	}
	for _, c := range seeds {
		if _, err := os.Stat(c.ScenarioPath); err != nil {
			return f.Fail(ExitCommandError, ErrCodeNotFound, "scenario not found: "+c.ScenarioPath, err)
		}
	}
	if opts.Config.BatchSize <= 0 {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "--batch-size must be positive", nil)
	}

	runner, err := newRunner(opts)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeRunnerFailed, "cannot locate morphogen binary", err)
	}

	hopts := []harness.Option{harness.WithLogger(log)}
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		hopts = append(hopts, harness.WithStore(st))
	}

	ctx, cancel := signalContext(commandContext(cmd), log)
	defer cancel()

	h := harness.New(opts.Config, runner, hopts...)
	if err := h.Resume(ctx); err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to resume archive", err)
	}
	for _, c := range seeds {
		h.Enqueue(c)
	}

	evals, err := h.RunGenerations(ctx, opts.Generations)
	if err != nil {
		if errors.Is(err, harness.ErrRunnerUnavailable) {
			return f.Fail(ExitCommandError, ErrCodeRunnerFailed, "candidate runner keeps failing", err)
		}
		return f.Fail(ExitFailure, ErrCodeRunFailed, "evolution stopped", err)
	}

	result := EvolveResult{Evaluations: evals, Backlog: h.BacklogLen()}
	if result.Evaluations == nil {
		result.Evaluations = []harness.Evaluation{}
	}
	for _, ev := range evals {
		if ev.Outcome.Breach {
			result.Breaches++
		}
	}
	return f.Success(result)
}

// parseSeeds turns id=path (or id:path) arguments into generation zero
// candidates.
func parseSeeds(args []string, stimulus string) ([]harness.Candidate, error) {
	seen := make(map[string]bool, len(args))
	seeds := make([]harness.Candidate, 0, len(args))
	for _, arg := range args {
		id, path, ok := strings.Cut(arg, "=")
		if !ok {
			id, path, ok = strings.Cut(arg, ":")
		}
		id, path = strings.TrimSpace(id), strings.TrimSpace(path)
		if !ok || id == "" || path == "" {
			return nil, fmt.Errorf("%q: want id=scenario.yaml", arg)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate seed id %q", id)
		}
		seen[id] = true
		seeds = append(seeds, harness.Candidate{ID: id, ScenarioPath: path, StimulusPath: stimulus})
	}
	return seeds, nil
}

func newRunner(opts *EvolveOptions) (harness.Runner, error) {
	if opts.InProcess {
		return &harness.InProcessRunner{Workers: opts.Workers, Logger: opts.logger()}, nil
	}
	binary := opts.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		binary = exe
	}
	var args []string
	if opts.Workers > 0 {
		args = append(args, "--workers", fmt.Sprint(opts.Workers))
	}
	return &harness.ProcessRunner{Binary: binary, Args: args, Logger: opts.logger()}, nil
}
