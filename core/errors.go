package core

import (
	"errors"
	"fmt"
)

// Stage identifies the startup phase in which a StartupError occurred.
type Stage string

const (
	StageConfig     Stage = "config"
	StageActivation Stage = "activation"
	StageComponents Stage = "components"
	StageRuntime    Stage = "runtime"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitStartupFailure = 1
	ExitUsage          = 2
)

// StartupError is the single failure kind of the bootstrap. Capability is
// set when the failure happened while activating that capability.
type StartupError struct {
	Capability Capability
	Stage      Stage
	Cause      error
}

// NewStartupError wraps cause for the given capability and stage.
func NewStartupError(c Capability, stage Stage, cause error) *StartupError {
	return &StartupError{Capability: c, Stage: stage, Cause: cause}
}

func (e *StartupError) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("startup failed: %s %s: %v", e.Capability, e.Stage, e.Cause)
	}
	return fmt.Sprintf("startup failed during %s: %v", e.Stage, e.Cause)
}

func (e *StartupError) Unwrap() error {
	return e.Cause
}

// Reason returns the capability that failed to activate, if any.
func (e *StartupError) Reason() Capability {
	return e.Capability
}

// AsStartupError extracts a StartupError from err's chain.
func AsStartupError(err error) (*StartupError, bool) {
	var se *StartupError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsStartupError reports whether err's chain contains a StartupError.
func IsStartupError(err error) bool {
	_, ok := AsStartupError(err)
	return ok
}

// ExitCode maps a run result to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if se, ok := AsStartupError(err); ok && se.Stage == StageConfig {
		return ExitUsage
	}
	return ExitStartupFailure
}
