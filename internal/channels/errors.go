package channels

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAccount is returned when an operation names an account ID
	// that is not registered.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrInvalidInput is returned for malformed caller input (bad JID,
	// undecodable config) — never a panic.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable is returned when the transport or a collaborator is
	// not in a state to serve the request.
	ErrUnavailable = errors.New("unavailable")
)

// UnknownAccount wraps ErrUnknownAccount with the offending ID.
func UnknownAccount(accountID string) error {
	return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
}

// InvalidInput wraps ErrInvalidInput with detail.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Unavailable wraps ErrUnavailable with detail.
func Unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}
