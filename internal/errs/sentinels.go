// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across storage/cache/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrKeyDerivation indicates missing or malformed secret material.
	// Fatal at startup, never raised per-request with valid configuration.
	ErrKeyDerivation = errors.New("key derivation misconfigured")

	// ErrDecrypt indicates an undecryptable blob: wrong key or passphrase,
	// corruption, or tampering. Always recoverable; callers treat it as
	// "no data available".
	ErrDecrypt = errors.New("decrypt failed")

	// ErrPersistence indicates a database or I/O fault. The in-memory copy
	// of the data is retained by the caller, so the write can be retried.
	ErrPersistence = errors.New("persistence failed")

	// ErrValidation indicates malformed input at a boundary (bad date,
	// unparseable legacy record).
	ErrValidation = errors.New("validation failed")
)
