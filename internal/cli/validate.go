package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/morphogen/internal/scenario"
)

// ValidationIssue is one problem found in a scenario or stimulus file.
type ValidationIssue struct {
	File    string `json:"file"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid           bool              `json:"valid"`
	Scenario        string            `json:"scenario,omitempty"`
	Steps           int               `json:"steps,omitempty"`
	Topology        string            `json:"topology,omitempty"`
	StimulusRecords int               `json:"stimulus_records,omitempty"`
	Errors          []ValidationIssue `json:"errors,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		s := fmt.Sprintf("✓ Scenario %q valid: %d steps, %s topology", r.Scenario, r.Steps, r.Topology)
		if r.StimulusRecords > 0 {
			s += fmt.Sprintf(", %d stimulus records", r.StimulusRecords)
		}
		return s
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ Validation failed (%d error(s)):", len(r.Errors))
	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "\n  %s: [%s] %s: %s", e.File, e.Code, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "\n  %s: [%s] %s", e.File, e.Code, e.Message)
		}
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var stimulus string

	cmd := &cobra.Command{
		Use:   "validate <scenario.yaml>",
		Short: "Validate a scenario without running it",
		Long: `Validate a scenario YAML against the schema and genome bounds, and
optionally a stimulus schedule alongside it.

Exit codes:
  0 - Valid
  1 - Validation failed
  2 - Command error (file not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], stimulus, cmd)
		},
	}

	cmd.Flags().StringVar(&stimulus, "stimulus", "", "also validate this JSONL stimulus schedule")

	return cmd
}

func runValidate(opts *RootOptions, scenarioPath, stimulusPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	result := ValidationResult{Valid: true}

	formatter.VerboseLog("Validating scenario %s", scenarioPath)
	sc, err := scenario.Load(scenarioPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "scenario not found: "+scenarioPath, err)
	case err != nil:
		result.Errors = append(result.Errors, issue(scenarioPath, ErrCodeInvalidScenario, err))
	default:
		result.Scenario = sc.Name
		result.Steps = sc.Steps
		result.Topology = sc.Topology
	}

	if stimulusPath != "" {
		formatter.VerboseLog("Validating stimulus %s", stimulusPath)
		records, err := readStimulus(stimulusPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "stimulus not found: "+stimulusPath, err)
		case err != nil:
			result.Errors = append(result.Errors, issue(stimulusPath, ErrCodeInvalidStimulus, err))
		default:
			result.StimulusRecords = len(records)
		}
	}

	if len(result.Errors) > 0 {
		result.Valid = false
		return formatter.Reject(result.Errors[0].Code, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)), result)
	}

	return formatter.Success(result)
}

func issue(file, code string, err error) ValidationIssue {
	iss := ValidationIssue{File: file, Code: code, Message: err.Error()}
	var ce *scenario.ConfigError
	if errors.As(err, &ce) {
		iss.Field = ce.Field
		iss.Message = ce.Message
	}
	return iss
}

func readStimulus(path string) ([]scenario.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scenario.DecodeRecords(f)
}
