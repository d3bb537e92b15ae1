package game

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the client
type Kind string

const (
	KindAuthentication Kind = "AuthenticationError"
	KindValidation     Kind = "ValidationError"
	KindState          Kind = "StateError"
	KindNotFound       Kind = "NotFoundError"
	KindTransport      Kind = "TransportError"
)

// Error is a classified, client-visible error
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Is matches errors of the same kind and message
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == e.Msg
}

// KindOf returns the classification of err, or "" when err is not a *Error
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

func Authenticationf(format string, args ...any) error {
	return &Error{Kind: KindAuthentication, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func Statef(format string, args ...any) error {
	return &Error{Kind: KindState, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Errors
var (
	ErrBadSignature   = &Error{KindAuthentication, "invalid signature"}
	ErrGameNotFound   = &Error{KindNotFound, "game not found"}
	ErrPlayerNotFound = &Error{KindNotFound, "player not found"}
	ErrGameFull       = &Error{KindValidation, "game full"}
	ErrAlreadyJoined  = &Error{KindState, "player already joined"}
	ErrNotJoined      = &Error{KindState, "player not in game"}
	ErrNotPending     = &Error{KindState, "game is not pending"}
	ErrNotOngoing     = &Error{KindState, "game is not in progress"}
	ErrNotCreator     = &Error{KindState, "only the creator can do this"}
)
