// Package model defines domain entities used by services and repositories.
package model

import "time"

// KVEntry is one versioned key/value pair in an account's namespace.
// Value is nil for keys that do not exist (or were deleted).
type KVEntry struct {
	Key     string
	Value   *string
	Version int64
}

// VersionCreate is the expected-version sentinel meaning "key must not
// already exist".
const VersionCreate int64 = -1

// KVMutation is one optimistic-concurrency write intent. Value nil requests
// deletion; ExpectedVersion VersionCreate requests creation.
type KVMutation struct {
	Key             string
	Value           *string
	ExpectedVersion int64
}

// KVConflict reports the true current state of a key whose expected version
// did not match. Version 0 with a nil Value means the key does not exist.
type KVConflict struct {
	Key     string
	Value   *string
	Version int64
}

// Account is a registered end user identified by their public key.
type Account struct {
	ID        string
	PublicKey []byte
	CreatedAt time.Time
}

// Session is one coding-agent run hosted by a daemon. DataEncryptionKey is
// nil for sessions created before key versioning; such sessions use the
// legacy cipher.
type Session struct {
	ID                string
	AccountID         string
	Tag               string
	Metadata          string
	MetadataVersion   int64
	AgentState        *string
	AgentStateVersion int64
	DataEncryptionKey []byte
	Active            bool
	ActiveAt          time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Machine is a developer machine running the daemon. PublicKey is the
// machine's X25519 public key for per-call shared-key derivation.
type Machine struct {
	ID              string
	AccountID       string
	Metadata        string
	MetadataVersion int64
	DaemonState     *string
	PublicKey       []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Relationship connects two accounts for presence fan-out.
type Relationship struct {
	FromID    string
	ToID      string
	Status    string
	UpdatedAt time.Time
}
