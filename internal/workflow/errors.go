package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateNotFound is returned when a variant's template file is absent.
	ErrTemplateNotFound = errors.New("workflow template not found")

	// ErrTemplateMalformed is returned when a template cannot be parsed as a
	// graph or lacks a node the variant's coordinates point at.
	ErrTemplateMalformed = errors.New("workflow template malformed")

	// ErrUnknownVariant is returned when a variant name is not registered.
	ErrUnknownVariant = errors.New("unknown variant")
)

// ValidationError reports a request parameter outside its accepted range.
type ValidationError struct {
	Field string
	Min   int
	Max   int
	// Reason overrides the range message when set.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s must be between %d and %d", e.Field, e.Min, e.Max)
}
