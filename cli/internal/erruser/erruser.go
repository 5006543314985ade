// Package erruser provides errors whose Error() returns only a user-facing
// message; the cause is available via Unwrap() and printed by the CLI as
// "Details: ...".
package erruser

import (
	"errors"
	"fmt"
)

// Err holds a user-facing message and an optional technical cause.
type Err struct {
	Msg string
	Err error
}

// Error returns the user-facing message only.
func (e *Err) Error() string {
	if e == nil {
		return ""
	}
	return e.Msg
}

// Unwrap returns the underlying error. Safe on a nil receiver.
func (e *Err) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New returns an error with the given user-facing message wrapping err.
// If err is nil, returns a plain error with just msg.
func New(msg string, err error) error {
	if err == nil {
		return errors.New(msg)
	}
	return &Err{Msg: msg, Err: err}
}

// Newf is New with a formatted message.
func Newf(err error, format string, args ...any) error {
	return New(fmt.Sprintf(format, args...), err)
}

// Details returns the technical cause behind the first user error in err's
// chain, or nil when there is none.
func Details(err error) error {
	var u *Err
	if errors.As(err, &u) {
		return u.Err
	}
	return nil
}
