package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/morphogen/internal/scenario"
	"github.com/roach88/morphogen/internal/signal"
)

// StimulusOptions holds flags for the stimulus append command.
type StimulusOptions struct {
	*RootOptions
	File   string
	Record scenario.Record
}

// NewStimulusCommand creates the stimulus command group.
func NewStimulusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stimulus",
		Short: "Author stimulus schedules",
	}
	cmd.AddCommand(newStimulusAppendCommand(rootOpts))
	return cmd
}

func newStimulusAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StimulusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append one record to a JSONL stimulus schedule",
		Long: `Append one stimulus record to a JSONL schedule, creating the file if needed.

Example:
  morphogen stimulus append --file attack.jsonl --step 5 --topic activator --value 0.8
  morphogen stimulus append --file attack.jsonl --step 7 --topic consensus:anomaly \
    --value 1 --target cell-00003 --source cell-00001 --duration 2`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStimulusAppend(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "stimulus JSONL file (required)")
	cmd.Flags().Int64Var(&opts.Record.Step, "step", 0, "step the record takes effect")
	cmd.Flags().StringVar(&opts.Record.Topic, "topic", signal.TopicActivator, "signal topic")
	cmd.Flags().Float64Var(&opts.Record.Value, "value", 0, "signal value")
	cmd.Flags().StringVar(&opts.Record.Target, "target", "", "recipient cell (empty broadcasts)")
	cmd.Flags().Int64Var(&opts.Record.Duration, "duration", 0, "steps the record stays active (0 = one step)")
	cmd.Flags().StringVar(&opts.Record.Source, "source", "", "replay the record as if this cell emitted it")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func runStimulusAppend(opts *StimulusOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	if err := scenario.AppendRecord(opts.File, opts.Record); err != nil {
		if scenario.IsConfigError(err) {
			return f.Fail(ExitFailure, ErrCodeInvalidStimulus, "invalid stimulus record", err)
		}
		return f.Fail(ExitCommandError, ErrCodeWriteFailed, "cannot append to "+opts.File, err)
	}

	if f.Format == "json" {
		return f.Success(opts.Record)
	}
	r := opts.Record
	return f.Success(fmt.Sprintf("Appended %s=%g at step %d to %s", r.Topic, r.Value, r.Step, opts.File))
}
