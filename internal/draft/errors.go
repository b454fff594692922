package draft

import (
	"errors"
	"strings"
)

var (
	ErrNotFound               = errors.New("draft not found")
	ErrExpired                = errors.New("draft expired")
	ErrForbidden              = errors.New("draft belongs to another user")
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrInvalidDraft hides unexpected failures from callers.
	ErrInvalidDraft = errors.New("draft could not be processed")
)

// FieldError describes one rejected payload field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a payload.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "invalid draft payload"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "invalid draft payload: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, rule, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Rule: rule, Message: message})
}

// IsTerminal reports whether retrying an operation that failed with err can never succeed.
func IsTerminal(err error) bool {
	var verr *ValidationError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrAuthenticationRequired) ||
		errors.As(err, &verr)
}
