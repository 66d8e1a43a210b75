package auth

import "errors"

type Kind int

const (
	KindMissing Kind = iota + 1
	KindInvalid
)

var (
	ErrMissingToken = &Error{Kind: KindMissing}
	ErrInvalidToken = &Error{Kind: KindInvalid}
)

// Error is returned by Verify. The underlying parse failure, if any, is kept
// for logs but never shown to clients.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := "invalid token"
	if e.Kind == KindMissing {
		msg = "missing token"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrInvalidToken)
// holds regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}
