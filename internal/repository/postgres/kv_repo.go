package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/model"
)

// KVRepo implements KVRepository using PostgreSQL.
type KVRepo struct{ db *DB }

// NewKVRepo constructs a key/value repository.
func NewKVRepo(db *DB) *KVRepo { return &KVRepo{db: db} }

// Get returns a single entry, or nil when the key is absent.
func (r *KVRepo) Get(ctx context.Context, accountID, key string) (*model.KVEntry, error) {
	const q = `SELECT key, value, version FROM kv_entries WHERE account_id=$1 AND key=$2`
	var e model.KVEntry
	err := r.db.Pool.QueryRow(ctx, q, accountID, key).Scan(&e.Key, &e.Value, &e.Version)
	switch {
	case err == nil:
		return &e, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	default:
		return nil, fmt.Errorf("%v: %w", err, errs.ErrStorageUnavailable)
	}
}

// List returns entries with the given key prefix, ordered by key.
func (r *KVRepo) List(ctx context.Context, accountID, prefix string, limit int) ([]model.KVEntry, error) {
	const q = `
SELECT key, value, version FROM kv_entries
WHERE account_id=$1 AND key LIKE $2 || '%'
ORDER BY key ASC
LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, accountID, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrStorageUnavailable)
	}
	defer rows.Close()

	var out []model.KVEntry
	for rows.Next() {
		var e model.KVEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.Version); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// BulkGet returns the current state of each requested key. Missing keys
// come back with a nil value and version 0 so the caller sees every key it
// asked about.
func (r *KVRepo) BulkGet(ctx context.Context, accountID string, keys []string) ([]model.KVEntry, error) {
	const q = `SELECT key, value, version FROM kv_entries WHERE account_id=$1 AND key = ANY($2)`
	rows, err := r.db.Pool.Query(ctx, q, accountID, keys)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrStorageUnavailable)
	}
	defer rows.Close()

	found := make(map[string]model.KVEntry, len(keys))
	for rows.Next() {
		var e model.KVEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.Version); err != nil {
			return nil, err
		}
		found[e.Key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]model.KVEntry, 0, len(keys))
	for _, k := range keys {
		if e, ok := found[k]; ok {
			out = append(out, e)
		} else {
			out = append(out, model.KVEntry{Key: k})
		}
	}
	return out, nil
}

// Mutate applies the batch atomically. Every key is locked and checked
// first; if any expected version mismatches, nothing is written and all
// conflicts are reported with the keys' true state.
func (r *KVRepo) Mutate(
	ctx context.Context, accountID string, muts []model.KVMutation,
) (applied []model.KVEntry, conflicts []model.KVConflict, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("%v: %w", err, errs.ErrStorageUnavailable)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT value, version FROM kv_entries WHERE account_id=$1 AND key=$2 FOR UPDATE`

	// phase 1: lock and check every key
	current := make([]model.KVEntry, len(muts))
	for i, mut := range muts {
		var value *string
		var version int64
		scanErr := tx.QueryRow(ctx, sel, accountID, mut.Key).Scan(&value, &version)
		switch {
		case scanErr == nil:
			current[i] = model.KVEntry{Key: mut.Key, Value: value, Version: version}
			if mut.ExpectedVersion != version {
				conflicts = append(conflicts, model.KVConflict{Key: mut.Key, Value: value, Version: version})
			}
		case errors.Is(scanErr, pgx.ErrNoRows):
			current[i] = model.KVEntry{Key: mut.Key}
			if mut.ExpectedVersion != model.VersionCreate {
				conflicts = append(conflicts, model.KVConflict{Key: mut.Key})
			}
		default:
			err = scanErr
			return nil, nil, err
		}
	}
	if len(conflicts) > 0 {
		err = errs.ErrVersionConflict
		return nil, conflicts, err
	}

	// phase 2: apply
	const ins = `INSERT INTO kv_entries (account_id, key, value, version) VALUES ($1,$2,$3,1)`
	const upd = `UPDATE kv_entries SET value=$3, version=$4 WHERE account_id=$1 AND key=$2`
	const del = `DELETE FROM kv_entries WHERE account_id=$1 AND key=$2`

	applied = make([]model.KVEntry, 0, len(muts))
	for i, mut := range muts {
		switch {
		case mut.Value == nil:
			if _, err = tx.Exec(ctx, del, accountID, mut.Key); err != nil {
				return nil, nil, err
			}
			applied = append(applied, model.KVEntry{Key: mut.Key, Version: current[i].Version + 1})
		case mut.ExpectedVersion == model.VersionCreate:
			if _, err = tx.Exec(ctx, ins, accountID, mut.Key, *mut.Value); err != nil {
				// concurrent create of the same absent key: phase 1 had no
				// row to lock, so the race surfaces here as a conflict
				if isUniqueViolation(err) {
					err = errs.ErrVersionConflict
					return nil, []model.KVConflict{{Key: mut.Key}}, err
				}
				return nil, nil, err
			}
			applied = append(applied, model.KVEntry{Key: mut.Key, Value: mut.Value, Version: 1})
		default:
			newVer := current[i].Version + 1
			if _, err = tx.Exec(ctx, upd, accountID, mut.Key, *mut.Value, newVer); err != nil {
				return nil, nil, err
			}
			applied = append(applied, model.KVEntry{Key: mut.Key, Value: mut.Value, Version: newVer})
		}
	}
	return applied, nil, nil
}
