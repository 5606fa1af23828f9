package errors

import (
	"errors"
	"fmt"
)

// Common error types shared by the storage and relay layers
var (
	// Storage errors
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store closed")

	// Relay request errors
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden for customer")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrUnknownPlatform = errors.New("unknown platform")

	// OAuth flow errors
	ErrInvalidState = errors.New("invalid or expired state")
	ErrInvalidGrant = errors.New("invalid grant")

	// General errors
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// New returns an error with the given text
func New(text string) error {
	return errors.New(text)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors, nil when all are nil
func Join(errs ...error) error {
	return errors.Join(errs...)
}
