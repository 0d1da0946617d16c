package engine

import (
	"errors"
	"fmt"
)

// KernelError is a fatal error raised by the orchestrator.
//
// Semantic anomalies inside a step (forged signals, refused replications,
// votes about unknown cells) are never errors: they are logged at debug
// level and surface in telemetry. KernelError covers only the conditions
// that stop a run.
type KernelError struct {
	// Code identifies the error category.
	Code KernelErrorCode

	// Message is a human-readable description.
	Message string

	// Step is the step the run was at, -1 before the first step.
	Step int64

	// Details contains additional context.
	Details map[string]string

	err error
}

// KernelErrorCode categorizes kernel errors.
type KernelErrorCode string

const (
	// ErrCodeInvalidScenario indicates the scenario failed validation.
	ErrCodeInvalidScenario KernelErrorCode = "INVALID_SCENARIO"

	// ErrCodeProvision indicates a TPM could not be provisioned.
	ErrCodeProvision KernelErrorCode = "PROVISION_FAILED"

	// ErrCodeCancelled indicates the run context was cancelled between steps.
	ErrCodeCancelled KernelErrorCode = "RUN_CANCELLED"
)

// Error implements the error interface.
func (e *KernelError) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("%s: %s (step=%d)", e.Code, e.Message, e.Step)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *KernelError) Unwrap() error {
	return e.err
}

// IsInvalidScenario returns true if err is an invalid scenario error.
// Uses errors.As to handle wrapped errors.
func IsInvalidScenario(err error) bool {
	return hasCode(err, ErrCodeInvalidScenario)
}

// IsCancelled returns true if err reports a cancelled run.
func IsCancelled(err error) bool {
	return hasCode(err, ErrCodeCancelled)
}

func hasCode(err error, code KernelErrorCode) bool {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Code == code
	}
	return false
}

func newInvalidScenario(err error) *KernelError {
	return &KernelError{
		Code:    ErrCodeInvalidScenario,
		Message: err.Error(),
		Step:    -1,
		err:     err,
	}
}

func newProvisionError(cellID string, err error) *KernelError {
	return &KernelError{
		Code:    ErrCodeProvision,
		Message: fmt.Sprintf("provision tpm for %s: %v", cellID, err),
		Step:    -1,
		Details: map[string]string{"cell_id": cellID},
		err:     err,
	}
}

func newCancelledError(step int64, err error) *KernelError {
	return &KernelError{
		Code:    ErrCodeCancelled,
		Message: "run cancelled between steps",
		Step:    step,
		err:     err,
	}
}
