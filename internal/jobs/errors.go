package jobs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies failures so callers can tell request problems, lookups and
// execution failures apart.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindSubmission   Kind = "submission"
	KindTimeout      Kind = "timeout"
	KindInvalidInput Kind = "invalid_input"
	KindEngine       Kind = "engine"
	KindExport       Kind = "export"
	KindInternal     Kind = "internal"
)

// Retryable reports whether re-running the same input could succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindSubmission, KindTimeout, KindInternal:
		return true
	default:
		return false
	}
}

type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewValidation(message string) *Error {
	return NewError(KindValidation, message)
}

func NewNotFound(message string) *Error {
	return NewError(KindNotFound, message)
}

// Wrap attaches a kind and message to cause. A nil cause yields nil.
func Wrap(cause error, kind Kind, message string) *Error {
	if cause == nil {
		return nil
	}
	e := NewError(kind, message)
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(parts, ", "))
	}
	if e.Cause != nil {
		if msg == "" {
			return e.Cause.Error()
		}
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// KindOf returns the kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// SafeExecute runs fn and converts a panic into an internal error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(KindInternal, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
