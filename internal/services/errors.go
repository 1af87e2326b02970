package services

import (
	"errors"
	"fmt"

	"credits/internal/db"
)

type ErrorKind string

const (
	KindInvalidCode         ErrorKind = "invalid_code"
	KindCodeExpired         ErrorKind = "code_expired"
	KindCodeExhausted       ErrorKind = "code_exhausted"
	KindAlreadyRedeemed     ErrorKind = "already_redeemed"
	KindTooManyAttempts     ErrorKind = "too_many_attempts"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindDailyLimitExceeded  ErrorKind = "daily_limit_exceeded"
	KindNotFound            ErrorKind = "not_found"
	KindAlreadyReversed     ErrorKind = "already_reversed"
	KindLockTimeout         ErrorKind = "lock_timeout"
	KindConflict            ErrorKind = "conflict"
	KindInvalidArgument     ErrorKind = "invalid_argument"
)

// Error is a domain failure carrying a machine-readable kind and a reason
// meant for the caller. Two errors match under errors.Is when kinds match.
type Error struct {
	Kind   ErrorKind
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Reason
}

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

var (
	ErrInvalidCode         = &Error{Kind: KindInvalidCode}
	ErrCodeExpired         = &Error{Kind: KindCodeExpired}
	ErrCodeExhausted       = &Error{Kind: KindCodeExhausted}
	ErrAlreadyRedeemed     = &Error{Kind: KindAlreadyRedeemed}
	ErrTooManyAttempts     = &Error{Kind: KindTooManyAttempts}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrDailyLimitExceeded  = &Error{Kind: KindDailyLimitExceeded}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrAlreadyReversed     = &Error{Kind: KindAlreadyReversed}
	ErrLockTimeout         = &Error{Kind: KindLockTimeout}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
)

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a domain error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ""
}

// IsRetryable reports whether the caller may retry the same request as is.
func IsRetryable(err error) bool {
	return KindOf(err) == KindLockTimeout
}

// classify turns Postgres failures that have a domain meaning into domain
// errors and leaves everything else untouched.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case KindOf(err) != "":
		return err
	case db.IsLockTimeout(err), db.IsSerializationFailure(err):
		return newError(KindLockTimeout, "account is busy, retry later")
	case db.IsUniqueViolation(err):
		return newError(KindConflict, "request was applied concurrently")
	default:
		return err
	}
}
