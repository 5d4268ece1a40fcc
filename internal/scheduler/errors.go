package scheduler

import (
	"errors"
	"fmt"

	"github.com/example/visionary-scheduler/internal/timewindow"
)

var (
	// ErrNotFound is returned when the referenced entity does not exist in the store.
	ErrNotFound = errors.New("scheduler: not found")
	// ErrDuplicate is returned when an entity with the same id already exists.
	ErrDuplicate = errors.New("scheduler: duplicate id")
	// ErrOverlap is returned when a fixed event overlaps another fixed event.
	ErrOverlap = errors.New("scheduler: fixed events overlap")
	// ErrInvalid is wrapped by every *InvalidError.
	ErrInvalid = errors.New("scheduler: invalid input")
	// ErrInvalidTransition is returned for status changes the task lifecycle forbids.
	ErrInvalidTransition = errors.New("scheduler: invalid status transition")
)

// OverlapError reports the fixed event that blocks a new one.
type OverlapError struct {
	EventID       string
	ConflictingID string
	Window        timewindow.Window
}

// Error implements the error interface.
func (e *OverlapError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("scheduler: fixed event %s overlaps %s at %s", e.EventID, e.ConflictingID, e.Window)
}

// Unwrap exposes ErrOverlap to errors.Is.
func (e *OverlapError) Unwrap() error { return ErrOverlap }

// InvalidError describes a rejected field.
type InvalidError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *InvalidError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("scheduler: %s: %s", e.Field, e.Message)
}

// Unwrap exposes ErrInvalid and, when present, the underlying cause.
func (e *InvalidError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalid, e.Err}
	}
	return []error{ErrInvalid}
}

func invalid(field, message string) error {
	return &InvalidError{Field: field, Message: message}
}

func invalidWrap(field string, err error) error {
	return &InvalidError{Field: field, Message: err.Error(), Err: err}
}
