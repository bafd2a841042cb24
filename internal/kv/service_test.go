package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/model"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/router"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/wire"
)

type fakeKVRepo struct {
	getOut *model.KVEntry
	getErr error

	listIn struct {
		prefix string
		limit  int
	}
	listOut []model.KVEntry

	bulkIn  []string
	bulkOut []model.KVEntry

	mutateIn        []model.KVMutation
	mutateCalled    bool
	mutateApplied   []model.KVEntry
	mutateConflicts []model.KVConflict
	mutateErr       error
}

func (f *fakeKVRepo) Get(context.Context, string, string) (*model.KVEntry, error) {
	return f.getOut, f.getErr
}

func (f *fakeKVRepo) List(_ context.Context, _ string, prefix string, limit int) ([]model.KVEntry, error) {
	f.listIn.prefix, f.listIn.limit = prefix, limit
	return f.listOut, nil
}

func (f *fakeKVRepo) BulkGet(_ context.Context, _ string, keys []string) ([]model.KVEntry, error) {
	f.bulkIn = append([]string(nil), keys...)
	return f.bulkOut, nil
}

func (f *fakeKVRepo) Mutate(_ context.Context, _ string, muts []model.KVMutation) ([]model.KVEntry, []model.KVConflict, error) {
	f.mutateCalled = true
	f.mutateIn = append([]model.KVMutation(nil), muts...)
	return f.mutateApplied, f.mutateConflicts, f.mutateErr
}

type fakeEmitter struct {
	updates []router.UpdateOptions
	err     error
}

func (f *fakeEmitter) EmitUpdate(_ context.Context, opts router.UpdateOptions) (*wire.UpdateEvent, error) {
	f.updates = append(f.updates, opts)
	return &wire.UpdateEvent{ID: "u", Seq: 1, Body: opts.Body, CreatedAt: wire.Now()}, f.err
}

func strptr(s string) *string { return &s }

func TestService_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeKVRepo{}
	s := NewService(repo, nil, zaptest.NewLogger(t))

	_, err := s.Get(ctx, "", "k")
	require.Error(t, err)
	_, err = s.Get(ctx, "a", "")
	require.Error(t, err)

	_, err = s.List(ctx, "a", "", 101)
	require.Error(t, err)
	_, err = s.List(ctx, "a", "", -1)
	require.Error(t, err)

	_, err = s.BulkGet(ctx, "a", nil)
	require.Error(t, err)
	_, err = s.BulkGet(ctx, "a", make([]string, 101))
	require.Error(t, err)

	_, _, err = s.Mutate(ctx, "a", nil)
	require.Error(t, err)
	require.False(t, repo.mutateCalled, "oversize batch must be rejected before storage")

	big := make([]model.KVMutation, 101)
	for i := range big {
		big[i] = model.KVMutation{Key: "k", ExpectedVersion: model.VersionCreate}
	}
	_, _, err = s.Mutate(ctx, "a", big)
	require.Error(t, err)
	require.False(t, repo.mutateCalled)

	_, _, err = s.Mutate(ctx, "a", []model.KVMutation{{Key: "k", ExpectedVersion: -2}})
	require.Error(t, err)
	require.False(t, repo.mutateCalled)
}

func TestService_ListDefaultLimit(t *testing.T) {
	t.Parallel()
	repo := &fakeKVRepo{}
	s := NewService(repo, nil, zaptest.NewLogger(t))

	_, err := s.List(context.Background(), "a", "settings.", 0)
	require.NoError(t, err)
	require.Equal(t, MaxBatch, repo.listIn.limit)
	require.Equal(t, "settings.", repo.listIn.prefix)
}

func TestService_MutateAnnouncesBatch(t *testing.T) {
	t.Parallel()
	repo := &fakeKVRepo{
		mutateApplied: []model.KVEntry{
			{Key: "k1", Value: strptr("v1"), Version: 1},
			{Key: "k2", Version: 5},
		},
	}
	emit := &fakeEmitter{}
	s := NewService(repo, emit, zaptest.NewLogger(t))

	applied, conflicts, err := s.Mutate(context.Background(), "acc", []model.KVMutation{
		{Key: "k1", Value: strptr("v1"), ExpectedVersion: model.VersionCreate},
		{Key: "k2", ExpectedVersion: 4},
	})
	require.NoError(t, err)
	require.Empty(t, conflicts)
	require.Len(t, applied, 2)

	require.Len(t, emit.updates, 1)
	tag, err := wire.BodyTag(emit.updates[0].Body)
	require.NoError(t, err)
	require.Equal(t, wire.BodyKVBatchUpdate, tag)
}

func TestService_MutateConflictPassesThrough(t *testing.T) {
	t.Parallel()
	repo := &fakeKVRepo{
		mutateConflicts: []model.KVConflict{{Key: "k1", Value: strptr("actual"), Version: 3}},
		mutateErr:       errs.ErrVersionConflict,
	}
	emit := &fakeEmitter{}
	s := NewService(repo, emit, zaptest.NewLogger(t))

	_, conflicts, err := s.Mutate(context.Background(), "acc", []model.KVMutation{
		{Key: "k1", Value: strptr("stale"), ExpectedVersion: model.VersionCreate},
	})
	require.ErrorIs(t, err, errs.ErrVersionConflict)
	require.Len(t, conflicts, 1)
	require.Equal(t, int64(3), conflicts[0].Version)
	require.Equal(t, "actual", *conflicts[0].Value)
	require.Empty(t, emit.updates, "no announcement on conflict")
}
