// Package errs defines the error kinds shared across every component of the
// messenger core, so callers can branch on failure class without parsing
// strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind tags the class of failure a component surfaced. Components never
// return a bare error where a Kind applies.
type Kind string

const (
	InvalidAddress    Kind = "invalid_address"
	KeyGeneration     Kind = "key_generation"
	Encryption        Kind = "encryption"
	Decryption        Kind = "decryption"
	KeyLoading        Kind = "key_loading"
	Signature         Kind = "signature"
	Connection        Kind = "connection"
	StartFailed       Kind = "start_failed"
	IO                Kind = "io"
	StorageFailed     Kind = "storage_failed"
	ProtocolMalformed Kind = "protocol_malformed"
	Unauthenticated   Kind = "unauthenticated"
	Timeout           Kind = "timeout"
)

// Error wraps an underlying cause with a Kind, so errors.Is/As keeps working
// while callers can also switch on Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for the given op/kind, optionally wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
