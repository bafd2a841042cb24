package sessiontrack

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status classifies a session id as seen from this machine.
type Status string

const (
	StatusActive  Status = "active"  // a live tracked process exists locally
	StatusStopped Status = "stopped" // finished here, still within the history TTL
	StatusUnknown Status = "unknown" // never seen, or history entry expired
)

// Tracker holds the live session set and delegates finished sessions to the
// History. Safe for concurrent use.
type Tracker struct {
	history *History
	ttl     time.Duration
	log     *zap.Logger

	mu   sync.Mutex
	live map[string]string // lowercased id -> original id
}

func NewTracker(history *History, ttl time.Duration, log *zap.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		history: history,
		ttl:     ttl,
		log:     log,
		live:    make(map[string]string),
	}
}

// SessionStarted registers a live local session.
func (t *Tracker) SessionStarted(sessionID string) {
	t.mu.Lock()
	t.live[strings.ToLower(sessionID)] = sessionID
	t.mu.Unlock()
	t.log.Info("session started", zap.String("session_id", sessionID))
}

// SessionStopped moves a session from the live set into the history. Calling
// it for a session that was never live still records the stop.
func (t *Tracker) SessionStopped(sessionID string) {
	t.mu.Lock()
	delete(t.live, strings.ToLower(sessionID))
	t.mu.Unlock()
	t.history.RecordStopped(sessionID)
	t.log.Info("session stopped", zap.String("session_id", sessionID))
}

// Status resolves a session id: live wins over stopped, and anything the
// history has aged out is unknown.
func (t *Tracker) Status(sessionID string) Status {
	t.mu.Lock()
	_, alive := t.live[strings.ToLower(sessionID)]
	t.mu.Unlock()
	if alive {
		return StatusActive
	}
	if t.history.IsStopped(sessionID, t.ttl) {
		return StatusStopped
	}
	return StatusUnknown
}

// Live returns the ids of currently tracked sessions.
func (t *Tracker) Live() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.live))
	for _, id := range t.live {
		ids = append(ids, id)
	}
	return ids
}

// Cleanup prunes expired history entries using the tracker's TTL.
func (t *Tracker) Cleanup() int {
	n := t.history.CleanupExpired(t.ttl)
	if n > 0 {
		t.log.Debug("expired session history pruned", zap.Int("removed", n))
	}
	return n
}
