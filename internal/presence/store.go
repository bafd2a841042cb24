// Package presence tracks online/offline state per account across relay
// processes and fans transition broadcasts out to authorized peers.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
)

// Status is one account's presence as seen by the shared store.
type Status struct {
	Online   bool
	LastSeen int64 // ms since epoch, zero if never seen offline
}

// Store is the TTL-capable shared presence store. Local connection counts
// are authoritative for the process that holds them; the store is
// authoritative across processes.
type Store interface {
	// SetOnline marks the account online with the given TTL.
	SetOnline(ctx context.Context, accountID string, ttl time.Duration) error
	// Refresh re-arms the online TTL without changing state.
	Refresh(ctx context.Context, accountID string, ttl time.Duration) error
	// SetOffline clears the online marker and records the last-seen time.
	SetOffline(ctx context.Context, accountID string, lastSeen int64) error
	// GetBulk fetches presence for many accounts in one round trip.
	GetBulk(ctx context.Context, accountIDs []string) (map[string]Status, error)
}

// RedisStore implements Store on Redis: a TTL-bound online marker per
// account plus a persistent last-seen timestamp.
type RedisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(rdb redis.Cmdable) *RedisStore { return &RedisStore{rdb: rdb} }

func onlineKey(id string) string   { return "presence:online:" + id }
func lastSeenKey(id string) string { return "presence:lastseen:" + id }

func (s *RedisStore) SetOnline(ctx context.Context, accountID string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, onlineKey(accountID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%v: %w", err, errs.ErrStorageUnavailable)
	}
	return nil
}

func (s *RedisStore) Refresh(ctx context.Context, accountID string, ttl time.Duration) error {
	return s.SetOnline(ctx, accountID, ttl)
}

func (s *RedisStore) SetOffline(ctx context.Context, accountID string, lastSeen int64) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, onlineKey(accountID))
	pipe.Set(ctx, lastSeenKey(accountID), strconv.FormatInt(lastSeen, 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%v: %w", err, errs.ErrStorageUnavailable)
	}
	return nil
}

func (s *RedisStore) GetBulk(ctx context.Context, accountIDs []string) (map[string]Status, error) {
	if len(accountIDs) == 0 {
		return map[string]Status{}, nil
	}
	keys := make([]string, 0, 2*len(accountIDs))
	for _, id := range accountIDs {
		keys = append(keys, onlineKey(id))
	}
	for _, id := range accountIDs {
		keys = append(keys, lastSeenKey(id))
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrStorageUnavailable)
	}
	out := make(map[string]Status, len(accountIDs))
	n := len(accountIDs)
	for i, id := range accountIDs {
		st := Status{Online: vals[i] != nil}
		if raw, ok := vals[n+i].(string); ok {
			st.LastSeen, _ = strconv.ParseInt(raw, 10, 64)
		}
		out[id] = st
	}
	return out, nil
}
