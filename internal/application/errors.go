package application

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when an entity id is already taken.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrDisruptionQueued labels a change that waited behind another change
	// for the same user. It is logged, never returned to callers.
	ErrDisruptionQueued = errors.New("application: disruption queued behind in-flight change")
	// ErrNotConfigured is returned when an optional collaborator is missing.
	ErrNotConfigured = errors.New("application: collaborator not configured")
)

// ValidationError maps request fields to the reason they were rejected.
// The http layer translates each reason for display.
type ValidationError struct {
	FieldErrors map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	fields := v.Fields()
	if len(fields) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(fields, ", ")
}

// Fields lists the rejected field names in lexical order.
func (v *ValidationError) Fields() []string {
	if v == nil {
		return nil
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge folds nested validation, such as a recurrence rule, into v.
// Existing entries win over incoming ones.
func (v *ValidationError) merge(other *ValidationError) {
	for _, field := range other.Fields() {
		if _, exists := v.FieldErrors[field]; exists {
			continue
		}
		v.add(field, other.FieldErrors[field])
	}
}
