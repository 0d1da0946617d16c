package cli

import (
	"errors"
	"io/fs"

	"github.com/roach88/morphogen/internal/scenario"
)

// loadInputs loads a scenario and an optional stimulus schedule, mapping
// failures onto exit codes: missing files are command errors, invalid
// content is a validation failure.
func loadInputs(f *OutputFormatter, scenarioPath, stimulusPath string) (*scenario.Scenario, *scenario.Schedule, error) {
	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, f.Fail(ExitCommandError, ErrCodeNotFound, "scenario not found: "+scenarioPath, err)
		}
		return nil, nil, f.Fail(ExitFailure, ErrCodeInvalidScenario, "invalid scenario: "+scenarioPath, err)
	}
	if stimulusPath == "" {
		return sc, nil, nil
	}
	schedule, err := scenario.LoadSchedule(stimulusPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, f.Fail(ExitCommandError, ErrCodeNotFound, "stimulus not found: "+stimulusPath, err)
		}
		return nil, nil, f.Fail(ExitFailure, ErrCodeInvalidStimulus, "invalid stimulus: "+stimulusPath, err)
	}
	return sc, schedule, nil
}
