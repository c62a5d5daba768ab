package models

import (
	"errors"
	"fmt"
)

// ErrNoEligibleJobs signals an empty (or fully locked) queue to a claimer.
// It is the user-visible face of losing a claim race.
var ErrNoEligibleJobs = errors.New("no eligible job available")

// NotFoundError reports an unknown job or configuration.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ValidationError reports missing or invalid caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports a status move outside the transition table.
// The job is left unmodified when this is returned.
type InvalidTransitionError struct {
	JobID string
	From  string
	To    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

// PhaseExecutionError wraps a collaborator failure with the phase it broke.
type PhaseExecutionError struct {
	Phase string
	Err   error
}

func (e *PhaseExecutionError) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseExecutionError) Unwrap() error {
	return e.Err
}
