// Package limiter rate-limits failed websocket handshakes per source
// address, with a temporary lockout after repeated failures.
package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Limiter controls handshake attempts and temporary lockouts. Keys are
// hashed addresses, never raw IPs.
type Limiter interface {
	// Allow reports whether a handshake may proceed and an optional
	// retry-after when it may not.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	// Failure records a rejected handshake; enough of them place a block.
	Failure(ctx context.Context, key string) error
	// Success resets counters after an accepted handshake.
	Success(ctx context.Context, key string) error
}

// HashIP returns a stable hex digest for an IP string so raw addresses are
// never stored.
func HashIP(ip string) string {
	h := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(h[:])
}
