package diagnosis

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation             = errors.New("stage input is invalid")
	ErrAIUnavailable          = errors.New("ai inference unavailable")
	ErrSessionClosed          = errors.New("session is closed")
	ErrConcurrentModification = errors.New("session was modified concurrently")
	ErrPersistence            = errors.New("session could not be persisted")
	ErrNotFound               = errors.New("not found")
)

// ValidationError lists the missing and invalid fields of a rejected input.
type ValidationError struct {
	Stage   StageID
	Missing []string
	Invalid []FieldIssue
	Reason  string
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	for _, iss := range e.Invalid {
		parts = append(parts, iss.Field+" "+iss.Reason)
	}
	return fmt.Sprintf("%s: stage %s: %s", ErrValidation, e.Stage, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// AIUnavailableError is returned when every tier of the routed chain failed.
type AIUnavailableError struct {
	Stage StageID
	Err   error
}

func (e *AIUnavailableError) Error() string {
	return fmt.Sprintf("%s: stage %s: %v", ErrAIUnavailable, e.Stage, e.Err)
}

func (e *AIUnavailableError) Unwrap() error { return e.Err }

func (e *AIUnavailableError) Is(target error) bool { return target == ErrAIUnavailable }

// PersistenceError is returned when the store kept failing after retries.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
