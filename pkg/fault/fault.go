// Package fault classifies handler and infrastructure errors into the kinds the
// consumer engine routes on.
package fault

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindDecode
	KindTransient
	KindConflict
	KindPermanent
	KindExhausted
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindPermanent:
		return "permanent"
	case KindExhausted:
		return "exhausted"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error tags a cause with a kind. It exposes the same marker methods as the
// provider errors (Temporary/Permanent) so either style can be classified.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Temporary() bool     { return e.Kind == KindTransient }
func (e *Error) Permanent() bool     { return e.Kind == KindPermanent }
func (e *Error) Conflict() bool      { return e.Kind == KindConflict }
func (e *Error) DecodeFailure() bool { return e.Kind == KindDecode }

func wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Err: err}
}

func Decode(err error) error    { return wrap(KindDecode, err) }
func Transient(err error) error { return wrap(KindTransient, err) }
func Permanent(err error) error { return wrap(KindPermanent, err) }
func Conflict(err error) error  { return wrap(KindConflict, err) }

func Decodef(format string, args ...any) error {
	return Decode(fmt.Errorf(format, args...))
}

func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

type (
	decodeMarker    interface{ DecodeFailure() bool }
	permanentMarker interface{ Permanent() bool }
	exhaustedMarker interface{ Exhausted() bool }
	conflictMarker  interface{ Conflict() bool }
	temporaryMarker interface{ Temporary() bool }
	timeoutMarker   interface{ Timeout() bool }
)

// Classify walks err's chain. Precedence is decode, permanent, exhausted,
// cancelled, conflict, transient; anything else is KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if has[decodeMarker](err, func(m decodeMarker) bool { return m.DecodeFailure() }) {
		return KindDecode
	}
	if has[permanentMarker](err, func(m permanentMarker) bool { return m.Permanent() }) {
		return KindPermanent
	}
	if has[exhaustedMarker](err, func(m exhaustedMarker) bool { return m.Exhausted() }) {
		return KindExhausted
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if has[conflictMarker](err, func(m conflictMarker) bool { return m.Conflict() }) {
		return KindConflict
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if has[temporaryMarker](err, func(m temporaryMarker) bool { return m.Temporary() }) {
		return KindTransient
	}
	if has[timeoutMarker](err, func(m timeoutMarker) bool { return m.Timeout() }) {
		return KindTransient
	}
	return KindUnknown
}

// has reports whether any error in the chain implements M with ok returning true.
// errors.As stops at the first match, so a false marker further up the chain
// would otherwise hide a true one below it.
func has[M any](err error, ok func(M) bool) bool {
	for _, e := range flatten(err) {
		if m, isM := e.(M); isM && ok(m) {
			return true
		}
	}
	return false
}

func flatten(err error) []error {
	var out []error
	stack := []error{err}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e == nil {
			continue
		}
		out = append(out, e)
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			stack = append(stack, u.Unwrap()...)
		case interface{ Unwrap() error }:
			stack = append(stack, u.Unwrap())
		}
	}
	return out
}

func IsTransient(err error) bool { return Classify(err) == KindTransient }
func IsConflict(err error) bool  { return Classify(err) == KindConflict }
func IsPermanent(err error) bool { return Classify(err) == KindPermanent }
func IsDecode(err error) bool    { return Classify(err) == KindDecode }

// TransientOnly is the default filter for retrying a single store call or publish.
func TransientOnly(err error) bool {
	return Classify(err) == KindTransient
}

// TransientOrConflict is the filter for re-running a whole handler, where a lost
// optimistic lock is resolved by reading again.
func TransientOrConflict(err error) bool {
	switch Classify(err) {
	case KindTransient, KindConflict:
		return true
	default:
		return false
	}
}
