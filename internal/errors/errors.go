package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the relay components
var (
	// Authorization flow errors
	ErrInvalidState       = errors.New("invalid or already used state")
	ErrAuthExchangeFailed = errors.New("authorization code exchange failed")
	ErrSessionMismatch    = errors.New("state does not belong to session")
	ErrStaleWrite         = errors.New("superseded by a newer write")

	// Provider errors
	ErrInvalidGrant      = errors.New("invalid grant")
	ErrUnauthorized      = errors.New("token rejected by provider")
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrNetwork           = errors.New("provider unreachable")

	// General errors
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternal       = errors.New("internal error")
)

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

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return errors.Join(errs...)
}
