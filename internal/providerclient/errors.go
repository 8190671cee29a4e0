// Package providerclient talks to the authoritative DNS provider's HTTP API:
// reading the managed hostname's current record and idempotently steering it
// at either the primary (tunnel CNAME) or failover (direct A record) target.
package providerclient

import (
	"errors"
	"fmt"
)

// Kind classifies a provider fault the way the reconcile engine needs to
// react to it: Transient faults are retried next tick, Logical faults leave
// stabilization state untouched.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindAuth           Kind = "auth"
	KindRateLimited    Kind = "rate_limited"
	KindNotFound       Kind = "not_found"
	KindRemoteFailure  Kind = "remote_failure"
)

// Sentinel errors for the small set of conditions callers branch on directly.
var (
	ErrNotFound     = errors.New("providerclient: record not found")
	ErrUnauthorized = errors.New("providerclient: unauthorized")
	ErrRateLimited  = errors.New("providerclient: rate limited")
)

// Error wraps a provider fault with its Kind and the operation that failed.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("providerclient: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// IsTransient reports whether err should be treated as a Transient fault per
// the reconcile engine's error-handling policy: logged, no state mutation,
// retried on the next tick.
func IsTransient(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Kind {
	case KindNetwork, KindRateLimited, KindRemoteFailure:
		return true
	default:
		return false
	}
}

// IsLogical reports whether err is a ProviderLogical fault, which is
// reported only for KindNotFound (HTTP 404). Other 4xx responses besides
// auth and rate-limit are classified as KindRemoteFailure, so IsLogical
// returns false for them and IsTransient returns true.
func IsLogical(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == KindNotFound
}
