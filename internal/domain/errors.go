package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is(err, domain.ErrNotFound) etc.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict")
	ErrGateway       = errors.New("gateway error")
	ErrPersistence   = errors.New("persistence error")
)

// Error carries a kind, a message safe to show to callers and an optional cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func StateConflict(format string, args ...any) error {
	return &Error{Kind: ErrStateConflict, Message: fmt.Sprintf(format, args...)}
}

func Gateway(cause error, format string, args ...any) error {
	return &Error{Kind: ErrGateway, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Persistence(cause error, format string, args ...any) error {
	return &Error{Kind: ErrPersistence, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// PublicMessage returns the caller-facing message for err. Causes of
// persistence errors are not exposed.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Kind == ErrPersistence {
			return de.Message
		}
		return de.Error()
	}
	return "internal error"
}
