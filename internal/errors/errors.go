package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies failures surfaced by the engine.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindQuotaExceeded
	KindNotFound
	KindTransient
	KindScoring
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient_store_failure"
	case KindScoring:
		return "scoring"
	default:
		return "internal"
	}
}

// Error is the typed error returned by services. Remaining and ResetAfter
// are only set for KindQuotaExceeded.
type Error struct {
	Kind       Kind
	Msg        string
	Remaining  int64
	ResetAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrQuotaExceeded = &Error{Kind: KindQuotaExceeded}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrTransient     = &Error{Kind: KindTransient}
	ErrScoring       = &Error{Kind: KindScoring}
)

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func QuotaExceeded(action string, remaining int64, resetAfter time.Duration) error {
	return &Error{
		Kind:       KindQuotaExceeded,
		Msg:        fmt.Sprintf("%s quota exceeded", action),
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
}

// Transient wraps a store failure that may succeed on retry.
func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

func Scoring(msg string, err error) error {
	return &Error{Kind: KindScoring, Msg: msg, Err: err}
}

// KindOf reports the kind of err, KindInternal when it is not typed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Quota extracts quota details from a KindQuotaExceeded error.
func Quota(err error) (remaining int64, resetAfter time.Duration, ok bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindQuotaExceeded {
		return e.Remaining, e.ResetAfter, true
	}
	return 0, 0, false
}
