package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrDuplicateName = errors.New("duplicate name")
	ErrInvalid       = errors.New("invalid input")
	ErrPersistence   = errors.New("persistence failure")
	// ErrUnavailable marks failures of an external collaborator such as the
	// Helix API.
	ErrUnavailable = errors.New("collaborator unavailable")
)

// Invalidf builds an ErrInvalid with a message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
