package session

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a session failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindAuthentication
	KindOperation
	KindCredentials
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuthentication:
		return "authentication"
	case KindOperation:
		return "operation"
	case KindCredentials:
		return "credentials"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

var (
	// ErrNoSession is returned for operations on an account without a
	// live session.
	ErrNoSession = pkgerrors.New("no active session for this account")

	// ErrServerNotConfigured is returned when an account has no host.
	ErrServerNotConfigured = pkgerrors.New("server not configured")
)

// Error is the typed failure returned by every Manager operation.
type Error struct {
	Kind    Kind
	Account string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Account == "" {
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s error: %v", e.Account, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Describe renders an error for people. Typed errors are prefixed with
// their kind; anything else is returned as is.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if !errors.As(err, &se) {
		return err.Error()
	}

	var msg string
	if se.Err != nil {
		msg = se.Err.Error()
	}
	switch se.Kind {
	case KindConnection:
		return "Connection error: " + msg
	case KindAuthentication:
		return "Authentication error: " + msg
	case KindOperation:
		return "Operation error: " + msg
	case KindCredentials:
		return "Credentials error: " + msg
	case KindTimeout:
		return "Timed out: " + msg
	default:
		return msg
	}
}

func newError(kind Kind, account, op string, err error) *Error {
	return &Error{Kind: kind, Account: account, Op: op, Err: err}
}
