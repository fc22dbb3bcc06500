package session

import (
	"errors"

	"github.com/odvcencio/tether/pkg/backend"
)

// ErrNotFound reports a lookup of an identity or parent index that does
// not exist. It is the backend's sentinel, re-exported so callers depend
// only on this package.
var ErrNotFound = backend.ErrNotFound

var (
	// ErrInvalidArgument reports a malformed identity string or a ref of
	// the wrong kind.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrValidationFailed reports a Save with missing or empty required
	// fields. It is surfaced before any backend call is attempted.
	ErrValidationFailed = errors.New("validation failed")

	// ErrConsistency reports a broken cache invariant, such as publishing
	// an identity that already maps to a distinct wrapper. It indicates a
	// defect, not a user error.
	ErrConsistency = errors.New("entity cache consistency violation")

	// ErrClosed reports an operation on a closed session.
	ErrClosed = errors.New("session is closed")
)
