// Package apperrors defines the error taxonomy of §7: typed struct errors
// each carrying a stable Code, grounded on the teacher's typed-error family
// in internal/api/handlers/error_types.go. Every component catches
// collaborator errors at its top frame and translates them into one of
// these before persisting an E4/E5 row or returning to its caller; no raw
// driver or stdlib error is ever allowed to propagate to a scheduler.
package apperrors

import (
	"errors"
	"fmt"
)

// Code identifies the taxonomy member independent of the formatted message,
// so callers can switch on it instead of string-matching Error().
type Code string

const (
	CodeIntegrity          Code = "integrity_error"
	CodeInsufficientData   Code = "insufficient_data"
	CodeTransientStorage   Code = "transient_storage_error"
	CodeTrainingFailure    Code = "training_failure"
	CodeRegistryConflict   Code = "registry_conflict"
	CodeInvariantViolation Code = "invariant_violation"
)

// IntegrityError signals a reference digest mismatch or other storage
// corruption. Never retried; the affected run is aborted and the operator
// must intervene.
type IntegrityError struct {
	Code    Code
	Subject string
	Detail  string
}

func NewIntegrityError(subject, detail string) *IntegrityError {
	return &IntegrityError{Code: CodeIntegrity, Subject: subject, Detail: detail}
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error on %s: %s", e.Subject, e.Detail)
}

// InsufficientDataError is not a fault: too few samples or too little
// label coverage to proceed. Callers turn it into a skip decision or a
// degenerate E4 row, never into a fatal log.
type InsufficientDataError struct {
	Code   Code
	Reason string
}

func NewInsufficientDataError(reason string) *InsufficientDataError {
	return &InsufficientDataError{Code: CodeInsufficientData, Reason: reason}
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %s", e.Reason)
}

// TransientStorageError wraps a network/connection failure talking to the
// ledger or registry. Classify reports it as retryable, so internal/retry.Do
// retries it with bounded exponential backoff; the ledger, registry,
// decision log and monitor do not call retry.Do and return it to their
// caller after a single attempt.
type TransientStorageError struct {
	Code Code
	Op   string
	Err  error
}

func NewTransientStorageError(op string, err error) *TransientStorageError {
	return &TransientStorageError{Code: CodeTransientStorage, Op: op, Err: err}
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("transient storage error during %s: %v", e.Op, e.Err)
}

func (e *TransientStorageError) Unwrap() error { return e.Err }

// TrainingFailureError records that the training function raised or
// exceeded its deadline. Produces a skip E5 row; no partial model is
// registered.
type TrainingFailureError struct {
	Code   Code
	Reason string
	Err    error
}

func NewTrainingFailureError(reason string, err error) *TrainingFailureError {
	return &TrainingFailureError{Code: CodeTrainingFailure, Reason: reason, Err: err}
}

func (e *TrainingFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("training failure (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("training failure: %s", e.Reason)
}

func (e *TrainingFailureError) Unwrap() error { return e.Err }

// RegistryConflictError is raised when a concurrent promotion lost the
// commit race on the partial-unique Production constraint. The losing
// orchestration records a reject decision with failed_gate =
// concurrent_promotion and does not retry automatically.
type RegistryConflictError struct {
	Code      Code
	ModelName string
	Err       error
}

func NewRegistryConflictError(modelName string, err error) *RegistryConflictError {
	return &RegistryConflictError{Code: CodeRegistryConflict, ModelName: modelName, Err: err}
}

func (e *RegistryConflictError) Error() string {
	return fmt.Sprintf("registry conflict promoting %s: %v", e.ModelName, e.Err)
}

func (e *RegistryConflictError) Unwrap() error { return e.Err }

// InvariantViolationError signals that a promotion attempt would leave zero
// or two Production rows for a model_name. Fatal; no E5/E6 mutation occurs.
type InvariantViolationError struct {
	Code      Code
	ModelName string
	Detail    string
}

func NewInvariantViolationError(modelName, detail string) *InvariantViolationError {
	return &InvariantViolationError{Code: CodeInvariantViolation, ModelName: modelName, Detail: detail}
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation for %s: %s", e.ModelName, e.Detail)
}

// Classify reports whether err should be retried by internal/retry, mirroring
// the teacher's adaptive-retry error-classification logic: transient storage
// errors are retryable, everything else in the taxonomy (and anything
// outside it) is not.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientStorageError
	return errors.As(err, &transient)
}
