// Package kv implements the versioned key/value service used as a generic
// optimistic-concurrency state primitive by higher features.
package kv

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/model"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/repository"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/router"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/wire"
)

// MaxBatch bounds list results, bulk gets, and mutation batches. Oversized
// batches are rejected before storage is touched.
const MaxBatch = 100

// updateEmitter is the slice of the router the service needs to announce
// applied batches.
type updateEmitter interface {
	EmitUpdate(ctx context.Context, opts router.UpdateOptions) (*wire.UpdateEvent, error)
}

// Service validates requests and delegates to the repository. Successful
// mutations are announced to the account's connections as a
// kv-batch-update.
type Service struct {
	repo   repository.KVRepository
	events updateEmitter
	log    *zap.Logger
}

// NewService constructs a Service. events may be nil for callers that do
// their own announcement (tests, offline tools).
func NewService(repo repository.KVRepository, events updateEmitter, log *zap.Logger) *Service {
	return &Service{repo: repo, events: events, log: log}
}

// Get returns a single entry, or nil when absent.
func (s *Service) Get(ctx context.Context, accountID, key string) (*model.KVEntry, error) {
	if accountID == "" || key == "" {
		return nil, errors.New("validation: empty accountID/key")
	}
	return s.repo.Get(ctx, accountID, key)
}

// List returns up to limit entries with the given prefix. limit 0 means
// MaxBatch; anything above MaxBatch is rejected.
func (s *Service) List(ctx context.Context, accountID, prefix string, limit int) ([]model.KVEntry, error) {
	if accountID == "" {
		return nil, errors.New("validation: empty accountID")
	}
	if limit < 0 || limit > MaxBatch {
		return nil, fmt.Errorf("validation: limit out of range (%d)", limit)
	}
	if limit == 0 {
		limit = MaxBatch
	}
	return s.repo.List(ctx, accountID, prefix, limit)
}

// BulkGet returns the state of 1..MaxBatch keys.
func (s *Service) BulkGet(ctx context.Context, accountID string, keys []string) ([]model.KVEntry, error) {
	if accountID == "" {
		return nil, errors.New("validation: empty accountID")
	}
	if len(keys) == 0 || len(keys) > MaxBatch {
		return nil, fmt.Errorf("validation: key count out of range (%d)", len(keys))
	}
	for i, k := range keys {
		if k == "" {
			return nil, fmt.Errorf("validation: keys[%d] empty", i)
		}
	}
	return s.repo.BulkGet(ctx, accountID, keys)
}

// Mutate applies a batch of 1..MaxBatch mutations atomically. On version
// conflict the returned conflicts carry each conflicting key's true state
// so the caller can retry with fresh data.
func (s *Service) Mutate(
	ctx context.Context, accountID string, muts []model.KVMutation,
) ([]model.KVEntry, []model.KVConflict, error) {
	if accountID == "" {
		return nil, nil, errors.New("validation: empty accountID")
	}
	if len(muts) == 0 || len(muts) > MaxBatch {
		return nil, nil, fmt.Errorf("validation: mutation count out of range (%d)", len(muts))
	}
	for i, m := range muts {
		if m.Key == "" {
			return nil, nil, fmt.Errorf("validation: mutations[%d] empty key", i)
		}
		if m.ExpectedVersion < model.VersionCreate {
			return nil, nil, fmt.Errorf("validation: mutations[%d] bad expected version %d", i, m.ExpectedVersion)
		}
	}

	applied, conflicts, err := s.repo.Mutate(ctx, accountID, muts)
	if err != nil {
		return nil, conflicts, err
	}
	s.announce(ctx, accountID, applied)
	return applied, nil, nil
}

// announce emits a kv-batch-update so connected clients refresh. Failure
// here is logged, not returned: the batch is already committed.
func (s *Service) announce(ctx context.Context, accountID string, applied []model.KVEntry) {
	if s.events == nil {
		return
	}
	changes := make([]wire.KVBatchEntry, 0, len(applied))
	for _, e := range applied {
		changes = append(changes, wire.KVBatchEntry{Key: e.Key, Value: e.Value, Version: e.Version})
	}
	body, err := wire.MarshalBody(wire.KVBatchUpdateBody{T: wire.BodyKVBatchUpdate, Changes: changes})
	if err != nil {
		s.log.Error("kv batch body marshal failed", zap.Error(err))
		return
	}
	if _, err := s.events.EmitUpdate(ctx, router.UpdateOptions{AccountID: accountID, Body: body}); err != nil {
		s.log.Warn("kv batch announce failed", zap.String("account", accountID), zap.Error(err))
	}
}
