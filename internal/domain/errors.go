package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrMachineNotFound = errors.New("machine not found")
	ErrEntityNotFound  = errors.New("entity not found")
	// ErrStaleState is returned by the store when a transition commit finds
	// the entity no longer in the expected source state.
	ErrStaleState = errors.New("entity state changed concurrently")
)

// ConfigurationError marks a malformed or inconsistent machine definition.
// It blocks every entity operation on the affected machine.
type ConfigurationError struct {
	Machine string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("machine %q: %s", e.Machine, e.Reason)
}

// AlreadyExistsError is returned when creating a resource that exists.
type AlreadyExistsError struct {
	Resource string // "machine", "state", "transition", "entity"
	Key      string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Resource, e.Key)
}

// RuleEvaluationError wraps a rule that failed while being evaluated. It is
// non-fatal: the engine logs it and moves on to the next candidate.
type RuleEvaluationError struct {
	Machine string
	Rule    string
	Err     error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %q on machine %q: %v", e.Rule, e.Machine, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// NoApplicableTransitionError is returned when no candidate transition's
// rule accepts. The entity is unchanged and nothing is written.
type NoApplicableTransitionError struct {
	Machine  string
	EntityID string
	State    string
}

func (e *NoApplicableTransitionError) Error() string {
	return fmt.Sprintf("no applicable transition for entity %q in state %q of machine %q", e.EntityID, e.State, e.Machine)
}

// TransitionFailedError wraps a command that failed during execution. The
// entity remains in its prior state and the failure is persisted to history.
type TransitionFailedError struct {
	Machine  string
	EntityID string
	State    string
	Command  string
	Err      error
}

func (e *TransitionFailedError) Error() string {
	return fmt.Sprintf("command %q failed for entity %q in state %q of machine %q: %v", e.Command, e.EntityID, e.State, e.Machine, e.Err)
}

func (e *TransitionFailedError) Unwrap() error { return e.Err }
