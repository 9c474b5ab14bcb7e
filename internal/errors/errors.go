// Package errors defines the error taxonomy shared by the transport,
// stores and mutation layers.
package errors

import (
	"errors"
	"fmt"
)

// Local errors.
var (
	ErrUnknownRequest  = errors.New("friend request not found")
	ErrRequestResolved = errors.New("friend request already resolved")
	ErrUnknownChat     = errors.New("chat not found")
	ErrEngineStopped   = errors.New("reconciliation engine stopped")
	ErrMalformedEvent  = errors.New("malformed push event")
	ErrUnknownEvent    = errors.New("unknown push event")
	ErrSnapshotDecode  = errors.New("snapshot could not be decoded")
	ErrNoSession       = errors.New("no active session")
	ErrInvalidTarget   = errors.New("invalid target user")
)

// NetworkError is a transient transport failure. The push channel
// reconnects and the engine refetches snapshots with backoff; callers
// surface them as a non-blocking condition.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error during %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ConflictError means the resource was already resolved by another actor.
// Mutations treat it as a successful idempotent outcome.
type ConflictError struct {
	Op     string
	Status int
	Msg    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict during %s (%d): %s", e.Op, e.Status, e.Msg)
}

// ValidationError is a domain rejection by the server. It triggers a
// rollback and is returned to the initiating caller.
type ValidationError struct {
	Op     string
	Status int
	Msg    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rejected %s (%d): %s", e.Op, e.Status, e.Msg)
}

// AuthExpiredError is session-fatal and propagates to the session owner.
type AuthExpiredError struct {
	Op     string
	Status int
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("session expired during %s (%d)", e.Op, e.Status)
}

// IsNetwork reports whether err is, or wraps, a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsConflict reports whether err is, or wraps, a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAuthExpired reports whether err is, or wraps, an AuthExpiredError.
func IsAuthExpired(err error) bool {
	var ae *AuthExpiredError
	return errors.As(err, &ae)
}
