package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
)

// UpdateRepo implements UpdateRepository using PostgreSQL. Sequence numbers
// come from a per-account counter row bumped in the same transaction as the
// insert, so seq order matches persistence order.
type UpdateRepo struct{ db *DB }

// NewUpdateRepo constructs an update repository.
func NewUpdateRepo(db *DB) *UpdateRepo { return &UpdateRepo{db: db} }

// Append persists one update and returns its id and account-scoped seq.
func (r *UpdateRepo) Append(
	ctx context.Context, accountID string, body json.RawMessage, createdAt int64,
) (string, int64, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", 0, err
	}

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", 0, fmt.Errorf("%v: %w", err, errs.ErrStorageUnavailable)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const bump = `
INSERT INTO account_seq (account_id, seq) VALUES ($1, 1)
ON CONFLICT (account_id) DO UPDATE SET seq = account_seq.seq + 1
RETURNING seq`
	var seq int64
	if err = tx.QueryRow(ctx, bump, accountID).Scan(&seq); err != nil {
		return "", 0, err
	}

	const ins = `
INSERT INTO account_updates (id, account_id, seq, body, created_at)
VALUES ($1,$2,$3,$4,$5)`
	if _, err = tx.Exec(ctx, ins, id, accountID, seq, []byte(body), createdAt); err != nil {
		return "", 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return "", 0, err
	}
	return id.String(), seq, nil
}
