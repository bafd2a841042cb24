// Package repository declares the storage interfaces the relay's services
// depend on. PostgreSQL implementations live in the postgres subpackage.
package repository

import (
	"context"
	"encoding/json"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/model"
)

// KVRepository provides versioned access to an account's key/value
// namespace with optimistic concurrency.
type KVRepository interface {
	// Get returns a single entry, or nil when the key does not exist.
	Get(ctx context.Context, accountID, key string) (*model.KVEntry, error)

	// List returns entries whose key starts with prefix, ordered by key.
	List(ctx context.Context, accountID, prefix string, limit int) ([]model.KVEntry, error)

	// BulkGet returns entries for the requested keys. Missing keys are
	// reported with a nil Value and version 0.
	BulkGet(ctx context.Context, accountID string, keys []string) ([]model.KVEntry, error)

	// Mutate applies a batch atomically: either every mutation's expected
	// version matches and all are applied, or nothing is written and every
	// conflicting key's true state is reported alongside ErrVersionConflict.
	Mutate(ctx context.Context, accountID string, muts []model.KVMutation) ([]model.KVEntry, []model.KVConflict, error)
}

// RelationshipRepository resolves which peers may observe an account.
type RelationshipRepository interface {
	// Friends returns the peer account ids related to accountID.
	Friends(ctx context.Context, accountID string) ([]string, error)
}

// UpdateRepository persists durable updates and allocates per-account
// sequence numbers.
type UpdateRepository interface {
	// Append stores the body and returns its id and account-scoped seq.
	Append(ctx context.Context, accountID string, body json.RawMessage, createdAt int64) (id string, seq int64, err error)
}

// PeerKeyRepository resolves the key material RPC targets expose.
type PeerKeyRepository interface {
	// MachinePublicKey returns the machine's X25519 public key.
	MachinePublicKey(ctx context.Context, accountID, machineID string) ([]byte, error)

	// SessionDataKey returns the session's data-encryption key, or nil and
	// an empty id for pre-key-versioning sessions.
	SessionDataKey(ctx context.Context, accountID, sessionID string) (dek []byte, dekID string, err error)
}
