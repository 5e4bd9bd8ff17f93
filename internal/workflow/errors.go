package workflow

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrInvalidFilter rejects a malformed list query. It is bad input, not one of the kinds.
var ErrInvalidFilter = errors.New("invalid filter")

// Kind is the error category surfaced to callers.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindForbidden         Kind = "FORBIDDEN"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindAlreadyClaimed    Kind = "ALREADY_CLAIMED"
	KindConflict          Kind = "CONFLICT"
)

// Reasons refine KindInvalidTransition for clients that render different messages.
const (
	ReasonUnknownStatus    = "unknown_status"
	ReasonNoSuchTransition = "no_such_transition"
	ReasonRoleNotPermitted = "role_not_permitted"
	ReasonNotClaimable     = "not_claimable"
)

type Error struct {
	Kind    Kind
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrAlreadyClaimed    = &Error{Kind: KindAlreadyClaimed}
	ErrConflict          = &Error{Kind: KindConflict}
)

// KindOf returns the workflow kind of err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}
