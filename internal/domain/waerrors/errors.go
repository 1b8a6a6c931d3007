// Package waerrors defines the sentinel error taxonomy shared by every
// component of the connection runtime.
package waerrors

import (
	"errors"
	"fmt"

	"waconnect/internal/domain/sessionkey"
)

var (
	ErrProxyUnavailable    = errors.New("no proxy could be allocated for the requested region")
	ErrProxyVendorError    = errors.New("proxy vendor request failed")
	ErrOwnershipDenied     = errors.New("session is owned by another instance")
	ErrCapacityReached     = errors.New("instance connection capacity reached")
	ErrSessionNotFound     = errors.New("session not found")
	ErrAlreadyConnected    = errors.New("session already connected")
	ErrAlreadyAttached     = errors.New("session already attached on this instance")
	ErrProtocolClosed      = errors.New("protocol session closed")
	ErrProjectionMissing   = errors.New("external status projection missing")
	ErrTimeout             = errors.New("operation timed out")
	ErrNotConnected        = errors.New("session is not connected")
	ErrLoggedOut           = errors.New("session was logged out by the remote device")
	ErrInvalidSessionKey   = errors.New("invalid session key")
	ErrCredentialsNotFound = errors.New("session credential blob not found")
)

// OpError wraps a sentinel error with the session key and operation
// that produced it, mirroring the teacher's SessionError/Unwrap shape.
type OpError struct {
	Key sessionkey.Key
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.Key, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func New(key sessionkey.Key, op string, err error) *OpError {
	return &OpError{Key: key, Op: op, Err: err}
}

// Internal wraps an unclassified error for the catch-all branch of the
// four-way dispatch (retry / rotate-proxy / tear-down / publish-and-continue).
type Internal struct {
	Err error
}

func (e *Internal) Error() string { return fmt.Sprintf("internal: %v", e.Err) }
func (e *Internal) Unwrap() error { return e.Err }

func NewInternal(err error) *Internal { return &Internal{Err: err} }
