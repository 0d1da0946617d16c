package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/morphogen/internal/scenario"
	"github.com/roach88/morphogen/internal/store"
	"github.com/roach88/morphogen/internal/telemetry"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Scenario  string
	Stimulus  string
	Telemetry string // optional recorded stream to compare against
	Database  string
	RunID     string // stored run to compare against, with --db
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Scenario      string `json:"scenario"`
	Events        int    `json:"events"`
	FirstDigest   string `json:"first_digest"`
	SecondDigest  string `json:"second_digest"`
	RecordedFrom  string `json:"recorded_from,omitempty"`
	Recorded      string `json:"recorded_digest,omitempty"`
	Deterministic bool   `json:"deterministic"`
}

func (r ReplayResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario %s: %d events\n", r.Scenario, r.Events)
	fmt.Fprintf(&b, "  run 1:    %s\n", r.FirstDigest)
	fmt.Fprintf(&b, "  run 2:    %s", r.SecondDigest)
	if r.RecordedFrom != "" {
		fmt.Fprintf(&b, "\n  recorded: %s (%s)", r.Recorded, r.RecordedFrom)
	}
	if r.Deterministic {
		b.WriteString("\n✓ Deterministic")
	} else {
		b.WriteString("\n✗ Digests differ")
	}
	return b.String()
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run a scenario and verify determinism",
		Long: `Run a scenario twice with the same stimulus and compare telemetry digests.

With --telemetry the digests are also compared against a recorded stream,
and with --db and --run against the digest stored for that run.

Exit codes:
  0 - Deterministic
  1 - Digests differ (or the scenario is invalid)
  2 - Command error (file not found, etc.)

Examples:
  morphogen replay --scenario scenario.yaml --stimulus attack.jsonl
  morphogen replay --scenario scenario.yaml --telemetry run.jsonl.br
  morphogen replay --scenario scenario.yaml --db morphogen.db --run <run-id>`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "path to scenario YAML (required)")
	cmd.Flags().StringVar(&opts.Stimulus, "stimulus", "", "path to JSONL stimulus schedule")
	cmd.Flags().StringVar(&opts.Telemetry, "telemetry", "", "recorded telemetry JSONL to compare against")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database holding the recorded run")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "recorded run id to compare against (requires --db)")
	_ = cmd.MarkFlagRequired("scenario")
	cmd.MarkFlagsRequiredTogether("db", "run")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	sc, schedule, err := loadInputs(f, opts.Scenario, opts.Stimulus)
	if err != nil {
		return err
	}
	var records []scenario.Record
	if schedule != nil {
		records = schedule.Records()
	}

	ctx, cancel := signalContext(commandContext(cmd), opts.logger())
	defer cancel()

	digests := make([]string, 2)
	var events int
	for i := range digests {
		stream, err := execute(ctx, opts.RootOptions, sc, records, fmt.Sprintf("replay-%d", i+1))
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeRunFailed, fmt.Sprintf("replay run %d failed", i+1), err)
		}
		if digests[i], err = telemetry.Digest(stream); err != nil {
			return f.Fail(ExitFailure, ErrCodeGeneric, "failed to digest telemetry", err)
		}
		events = len(stream)
		f.VerboseLog("run %d: %d events, digest %s", i+1, len(stream), digests[i])
	}

	result := ReplayResult{
		Scenario:      sc.Name,
		Events:        events,
		FirstDigest:   digests[0],
		SecondDigest:  digests[1],
		Deterministic: digests[0] == digests[1],
	}

	switch {
	case opts.Telemetry != "":
		recorded, err := telemetry.ReadJSONL(opts.Telemetry)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return f.Fail(ExitCommandError, ErrCodeNotFound, "telemetry not found: "+opts.Telemetry, err)
			}
			return f.Fail(ExitCommandError, ErrCodeGeneric, "cannot read telemetry: "+opts.Telemetry, err)
		}
		if result.Recorded, err = telemetry.Digest(recorded); err != nil {
			return f.Fail(ExitFailure, ErrCodeGeneric, "failed to digest telemetry", err)
		}
		result.RecordedFrom = opts.Telemetry
	case opts.Database != "":
		digest, err := storedDigest(ctx, opts.Database, opts.RunID)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeNotFound, "recorded run unavailable", err)
		}
		result.Recorded = digest
		result.RecordedFrom = opts.Database + "#" + opts.RunID
	}
	if result.RecordedFrom != "" && result.Recorded != result.FirstDigest {
		result.Deterministic = false
	}

	if !result.Deterministic {
		return f.Reject(ErrCodeNonDeterministic, "telemetry digests differ", result)
	}
	return f.Success(result)
}

// storedDigest looks up the digest of a completed run.
func storedDigest(ctx context.Context, path, runID string) (string, error) {
	st, err := store.Open(path)
	if err != nil {
		return "", err
	}
	defer st.Close()

	runs, err := st.Runs(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range runs {
		if r.ID != runID {
			continue
		}
		if !r.Completed {
			return "", fmt.Errorf("run %s did not complete", runID)
		}
		return r.Digest, nil
	}
	return "", fmt.Errorf("run %s not found", runID)
}
