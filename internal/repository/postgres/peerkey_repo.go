package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
)

// PeerKeyRepo implements PeerKeyRepository using PostgreSQL.
type PeerKeyRepo struct{ db *DB }

// NewPeerKeyRepo constructs a peer-key repository.
func NewPeerKeyRepo(db *DB) *PeerKeyRepo { return &PeerKeyRepo{db: db} }

// MachinePublicKey returns the machine's X25519 public key.
func (r *PeerKeyRepo) MachinePublicKey(ctx context.Context, accountID, machineID string) ([]byte, error) {
	const q = `SELECT public_key FROM machines WHERE account_id=$1 AND id=$2`
	var pub []byte
	err := r.db.Pool.QueryRow(ctx, q, accountID, machineID).Scan(&pub)
	switch {
	case err == nil:
		return pub, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errs.ErrNotFound
	default:
		return nil, fmt.Errorf("%v: %w", err, errs.ErrStorageUnavailable)
	}
}

// SessionDataKey returns the session's data-encryption key. A session
// created before key versioning has none; both returns are empty and the
// caller falls back to the legacy cipher.
func (r *PeerKeyRepo) SessionDataKey(ctx context.Context, accountID, sessionID string) ([]byte, string, error) {
	const q = `SELECT data_encryption_key, dek_id FROM sessions WHERE account_id=$1 AND id=$2`
	var dek []byte
	var dekID *string
	err := r.db.Pool.QueryRow(ctx, q, accountID, sessionID).Scan(&dek, &dekID)
	switch {
	case err == nil:
		if dekID == nil {
			return dek, "", nil
		}
		return dek, *dekID, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, "", errs.ErrNotFound
	default:
		return nil, "", fmt.Errorf("%v: %w", err, errs.ErrStorageUnavailable)
	}
}
