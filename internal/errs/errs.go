// Package errs defines the tagged error kinds used across the gateway,
// replacing exception-style control flow with an explicit, closed set of
// failure categories that the HTTP layer can map to status codes.
package errs

import "fmt"

// Kind is the closed set of failure categories a component can report.
type Kind int

const (
	Unknown Kind = iota
	Validation
	Conflict
	NotFound
	LaunchFailed
	ChildError
	Timeout
	BackendAuth
	PersistenceDegraded
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case LaunchFailed:
		return "launch_failed"
	case ChildError:
		return "child_error"
	case Timeout:
		return "timeout"
	case BackendAuth:
		return "backend_auth"
	case PersistenceDegraded:
		return "persistence_degraded"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// category without string-matching messages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags an existing error with a Kind, formatting msg like fmt.Sprintf.
func Wrap(kind Kind, err error, msg string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...), Err: err}
}

// As extracts the Kind from err, returning Unknown if err is not (or does
// not wrap) an *Error.
func As(err error) Kind {
	var e *Error
	if err == nil {
		return Unknown
	}
	if ok := errorsAs(err, &e); ok {
		return e.Kind
	}
	return Unknown
}

func errorsAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
