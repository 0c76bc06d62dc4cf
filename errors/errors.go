package errors

import (
	// Go Internal Packages
	goerrors "errors"
	"strings"
)

// Kind classifies an error so callers can react without string matching.
type Kind uint8

const (
	Other Kind = iota
	Invalid
	NotFound
	Conflict
	InvalidTransition
	Unavailable
	Internal
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case NotFound:
		return "not found"
	case Conflict:
		return "conflict"
	case InvalidTransition:
		return "invalid transition"
	case Unavailable:
		return "unavailable"
	case Internal:
		return "internal"
	default:
		return "other"
	}
}

// Error is the application error carrying a Kind, a message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a new *Error.
func E(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind of the outermost *Error in the chain, or Other.
func KindOf(err error) Kind {
	var e *Error
	if goerrors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Is reports whether err carries the given kind.
func Is(kind Kind, err error) bool {
	return err != nil && KindOf(err) == kind
}
