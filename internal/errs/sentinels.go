// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Crypto layer. These always fail closed: no partial plaintext is ever
// returned alongside one of them, and the message never says why AEAD
// verification failed.
var (
	// ErrInvalidKey indicates a key of the wrong length or an unusable key pair.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidBundle indicates an undersized or malformed encrypted bundle.
	ErrInvalidBundle = errors.New("invalid bundle")

	// ErrUnsupportedFormat indicates an unknown bundle version byte.
	ErrUnsupportedFormat = errors.New("unsupported bundle format")

	// ErrDecryptionFailed indicates AEAD authentication failure.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// RPC layer.
var (
	// ErrNotFound indicates the requested entity or RPC target does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCancelled indicates the remote explicitly cancelled an in-flight call.
	ErrCancelled = errors.New("cancelled")

	// ErrRPCFailed indicates the remote acknowledged the call with ok=false.
	ErrRPCFailed = errors.New("rpc failed")

	// ErrTimeout indicates no acknowledgment arrived before the deadline.
	ErrTimeout = errors.New("timeout")
)

// Storage and auth layers.
var (
	// ErrVersionConflict indicates optimistic concurrency failure (expected version mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrStorageUnavailable indicates a backend I/O failure.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")
)
