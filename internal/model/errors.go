package model

import (
	"fmt"
	"strings"
	"time"
)

// ConfigError reports an invalid Template or AnswerKey, or a key/template
// mismatch discovered during evaluation. It carries every violation found,
// not just the first, so a bad configuration is diagnosable in one pass.
type ConfigError struct {
	Violations []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Violations, "; ")
}

// NewConfigError builds a ConfigError from a non-empty violation list.
func NewConfigError(violations ...string) *ConfigError {
	return &ConfigError{Violations: violations}
}

// MalformedInputError reports a DetectedAnswer the bound answer key cannot
// accept, either an unknown question number or a duplicated one. Fatal for
// the one sheet only.
type MalformedInputError struct {
	QuestionNumber int
	Reason         string
}

func (e *MalformedInputError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("detected answer for question %d is malformed: %s", e.QuestionNumber, e.Reason)
	}
	return fmt.Sprintf("detected answer references unknown question %d", e.QuestionNumber)
}

// TimeoutError reports a sheet evaluation that exceeded its deadline.
type TimeoutError struct {
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("sheet evaluation exceeded deadline of %s", e.Deadline)
}

// InvalidStateTransitionError reports a review or finalize call against a
// job whose current state does not permit it. No state change occurs.
type InvalidStateTransitionError struct {
	JobStatus JobStatus
	Attempted string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a job in state %s", e.Attempted, e.JobStatus)
}

// SystemicError reports a condition that prevents a session from starting
// at all. It aborts the whole submission before any job runs.
type SystemicError struct {
	Reason string
	Err    error
}

func (e *SystemicError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session cannot start: %s: %v", e.Reason, e.Err)
	}
	return "session cannot start: " + e.Reason
}

func (e *SystemicError) Unwrap() error { return e.Err }
