// Package shared contains common domain types and errors that are used across
// all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// Achievement errors
	ErrUnknownAchievement = errors.New("unknown achievement")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLockNotAcquired        = errors.New("lock not acquired")

	// Infrastructure errors
	ErrStorage            = errors.New("storage failure")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "puzzle", "progress", "gamestate"
	Op      string // Operation that failed, e.g., "RecordAttempt", "Upsert"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Puzzle domain errors
var (
	ErrPuzzleNotFound      = NewDomainError("puzzle", "Find", ErrNotFound, "puzzle not found")
	ErrPuzzleAlreadyExists = NewDomainError("puzzle", "Create", ErrAlreadyExists, "puzzle already exists")
	ErrInvalidDifficulty   = NewDomainError("puzzle", "Validate", ErrInvalidInput, "difficulty must be beginner, intermediate or advanced")
	ErrInvalidPuzzleID     = NewDomainError("puzzle", "Validate", ErrInvalidID, "invalid puzzle ID")
)

// Progress domain errors
var (
	ErrProgressNotFound     = NewDomainError("progress", "Find", ErrNotFound, "progress record not found")
	ErrInvalidUserID        = NewDomainError("progress", "Validate", ErrInvalidID, "invalid user ID")
	ErrAchievementUnknown   = NewDomainError("progress", "Award", ErrUnknownAchievement, "achievement is not in the catalog")
	ErrProgressVersionStale = NewDomainError("progress", "Upsert", ErrConcurrentModification, "progress record was modified concurrently")
)

// Game state domain errors
var (
	ErrGameStateNotFound = NewDomainError("gamestate", "Load", ErrNotFound, "no saved game state found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsUnknownAchievement checks if the error is an unknown achievement error.
func IsUnknownAchievement(err error) bool {
	return errors.Is(err, ErrUnknownAchievement)
}

// IsConflict checks if the error signals a lost concurrent update.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrLockNotAcquired)
}

// IsStorage checks if the error came from a storage collaborator.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrServiceUnavailable)
}

// ValidationError builds a validation error for the given domain operation.
func ValidationError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// StorageError wraps a collaborator I/O error.
func StorageError(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrStorage, "storage operation failed", err)
}
