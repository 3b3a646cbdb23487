package p2core

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the stable error categories the ingestion pipeline
// can hit. None of these ever propagate through the hot data path as Go
// errors — each is surfaced through the matching Processor event sink and
// logged; the event sinks carry the kind as a plain string (for example
// OnRoutingError), not as a *p2core.Error.
type ErrorKind string

const (
	KindTransientNoise     ErrorKind = "transient_noise"
	KindValidationFailure  ErrorKind = "validation_failure"
	KindRingOverflow       ErrorKind = "ring_overflow"
	KindPoolExhausted      ErrorKind = "pool_exhausted"
	KindRouterSignalFull   ErrorKind = "router_signal_full"
	KindDoubleRelease      ErrorKind = "double_release"
	KindDrainTimeout       ErrorKind = "drain_timeout"
	KindShortFrame         ErrorKind = "short_frame"
	KindDestinationFailure ErrorKind = "destination_failure"
)

// Error is a structured p2core error carrying an operation name, a stable
// kind tag, a human-readable message, and an optional wrapped cause.
type Error struct {
	Op    string
	Kind  ErrorKind
	Msg   string
	Inner error
}

// NewError constructs an *Error with no wrapped cause.
func NewError(op string, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// WrapError constructs an *Error wrapping inner. Returns nil if inner is nil.
func WrapError(op string, kind ErrorKind, inner error) *Error {
	if inner == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Msg: inner.Error(), Inner: inner}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("p2core: %s: %s (%s)", e.Op, e.Msg, e.Kind)
	}
	return fmt.Sprintf("p2core: %s (%s)", e.Msg, e.Kind)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Inner }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, p2core.NewError("", p2core.KindPoolExhausted, "")).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// IsKind reports whether err is a *p2core.Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
