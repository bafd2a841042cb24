package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/router"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/wire"
)

// RelationshipDirectory resolves which peers may observe an account's
// presence. Backed by the relationship repository.
type RelationshipDirectory interface {
	Friends(ctx context.Context, accountID string) ([]string, error)
}

// emitter is the slice of the router the tracker needs.
type emitter interface {
	EmitEphemeral(opts router.EphemeralOptions)
}

const (
	// DefaultTTL bounds the online marker; the heartbeat refreshes it well
	// inside this window so presence survives between connection events.
	DefaultTTL = 90 * time.Second

	// DefaultHeartbeat is the refresh period for accounts with live
	// connections.
	DefaultHeartbeat = 30 * time.Second
)

// Tracker owns the per-process connection counts and drives the
// offline->online->offline state machine. Only transitions touch the store
// and broadcast; intermediate connects and disconnects just move the count.
type Tracker struct {
	store     Store
	friends   RelationshipDirectory
	events    emitter
	log       *zap.Logger
	ttl       time.Duration
	heartbeat time.Duration

	mu     sync.Mutex
	counts map[string]int
}

// NewTracker constructs a Tracker with default TTL and heartbeat periods.
func NewTracker(store Store, friends RelationshipDirectory, events emitter, log *zap.Logger) *Tracker {
	return &Tracker{
		store:     store,
		friends:   friends,
		events:    events,
		log:       log,
		ttl:       DefaultTTL,
		heartbeat: DefaultHeartbeat,
		counts:    make(map[string]int),
	}
}

// NewTrackerWithTTL is NewTracker with a custom online TTL. The heartbeat
// runs at a third of the TTL so a marker never lapses between refreshes.
func NewTrackerWithTTL(store Store, friends RelationshipDirectory, events emitter, ttl time.Duration, log *zap.Logger) *Tracker {
	t := NewTracker(store, friends, events, log)
	if ttl > 0 {
		t.ttl = ttl
		t.heartbeat = ttl / 3
	}
	return t
}

// HandleUserConnect records one new connection. The 0->1 edge transitions
// the account online.
func (t *Tracker) HandleUserConnect(ctx context.Context, accountID string) {
	t.mu.Lock()
	prev := t.counts[accountID]
	t.counts[accountID] = prev + 1
	t.mu.Unlock()
	if prev != 0 {
		return
	}
	if err := t.store.SetOnline(ctx, accountID, t.ttl); err != nil {
		t.log.Warn("presence store set online failed", zap.String("account", accountID), zap.Error(err))
	}
	t.broadcast(ctx, accountID, true, 0)
}

// HandleUserDisconnect records one closed connection. The 1->0 edge
// transitions the account offline and stamps last-seen.
func (t *Tracker) HandleUserDisconnect(ctx context.Context, accountID string) {
	t.mu.Lock()
	next := t.counts[accountID] - 1
	if next <= 0 {
		delete(t.counts, accountID)
		next = 0
	} else {
		t.counts[accountID] = next
	}
	t.mu.Unlock()
	if next != 0 {
		return
	}
	lastSeen := wire.Now()
	if err := t.store.SetOffline(ctx, accountID, lastSeen); err != nil {
		t.log.Warn("presence store set offline failed", zap.String("account", accountID), zap.Error(err))
	}
	t.broadcast(ctx, accountID, false, lastSeen)
}

// broadcast fans a friend-status ephemeral out to every authorized peer.
// Failures are logged and swallowed: presence must never break the
// connection lifecycle.
func (t *Tracker) broadcast(ctx context.Context, accountID string, online bool, lastSeen int64) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("presence broadcast panic", zap.String("account", accountID), zap.Any("reason", r))
		}
	}()
	peers, err := t.friends.Friends(ctx, accountID)
	if err != nil {
		t.log.Warn("friend lookup failed, skipping presence broadcast",
			zap.String("account", accountID), zap.Error(err))
		return
	}
	ev := wire.FriendStatus(accountID, online, lastSeen)
	for _, peer := range peers {
		t.events.EmitEphemeral(router.EphemeralOptions{
			AccountID: peer,
			Event:     ev,
			Filter:    router.UserScopedOnly(),
		})
	}
}

// GetBulkOnlineStatus answers presence for many accounts: local connection
// counts first, then one batched store fetch for the misses.
func (t *Tracker) GetBulkOnlineStatus(ctx context.Context, accountIDs []string) (map[string]Status, error) {
	out := make(map[string]Status, len(accountIDs))
	var misses []string
	t.mu.Lock()
	for _, id := range accountIDs {
		if t.counts[id] > 0 {
			out[id] = Status{Online: true}
		} else {
			misses = append(misses, id)
		}
	}
	t.mu.Unlock()
	if len(misses) == 0 {
		return out, nil
	}
	fetched, err := t.store.GetBulk(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, st := range fetched {
		out[id] = st
	}
	return out, nil
}

// Run refreshes the online TTL for every locally-online account until the
// context is cancelled. Scoped to the process lifetime; on shutdown the
// store self-expires, so no mass-offline broadcast is required.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refreshAll(ctx)
		}
	}
}

func (t *Tracker) refreshAll(ctx context.Context) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.counts))
	for id := range t.counts {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		if err := t.store.Refresh(ctx, id, t.ttl); err != nil {
			t.log.Warn("presence heartbeat refresh failed", zap.String("account", id), zap.Error(err))
		}
	}
}
