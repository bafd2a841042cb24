package postgres

import (
	"context"
	"fmt"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
)

// RelationshipRepo implements RelationshipRepository using PostgreSQL.
type RelationshipRepo struct{ db *DB }

// NewRelationshipRepo constructs a relationship repository.
func NewRelationshipRepo(db *DB) *RelationshipRepo { return &RelationshipRepo{db: db} }

// Friends returns accepted peer account ids for presence fan-out.
func (r *RelationshipRepo) Friends(ctx context.Context, accountID string) ([]string, error) {
	const q = `SELECT to_id FROM relationships WHERE from_id=$1 AND status='friend'`
	rows, err := r.db.Pool.Query(ctx, q, accountID)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrStorageUnavailable)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
