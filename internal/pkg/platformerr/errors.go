// Package platformerr classifies every failure coming back from the remote
// platform into one taxonomy consulted by the bet pipeline's retry policy.
// The raw platform token always travels with the mapped kind so operators can
// extend the mapping without touching calling layers.
package platformerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNetwork        Kind = "network"
	KindSessionInvalid Kind = "session_invalid"
	KindMarketClosed   Kind = "market_closed"
	KindValidation     Kind = "validation"
	KindLimit          Kind = "limit"
	KindOddsChanged    Kind = "odds_changed"
	KindOther          Kind = "other"
)

type Error struct {
	Kind     Kind
	RawToken string // platform status/error token, verbatim
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.RawToken != "" && e.Err != nil:
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.RawToken, e.Msg, e.Err)
	case e.RawToken != "":
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.RawToken, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, rawToken, msg string) *Error {
	return &Error{Kind: kind, RawToken: rawToken, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the mapped kind, defaulting to KindOther for foreign errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

// TokenOf extracts the raw platform token, if any.
func TokenOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RawToken
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the pipeline may retry the same call in place.
// Network errors are transient; market-closed gets a bounded fixed-delay
// retry. Everything else is terminal for the current attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindMarketClosed:
		return true
	default:
		return false
	}
}
