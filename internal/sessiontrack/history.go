// Package sessiontrack answers "is this session mine and is it alive" for
// the daemon: live sessions are tracked in memory, finished ones in a
// TTL-bounded on-disk history.
package sessiontrack

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTTL is how long a stopped session stays answerable.
	DefaultTTL = 24 * time.Hour

	// MaxEntries caps the history; the oldest entries are pruned first.
	MaxEntries = 1000
)

type stoppedEntry struct {
	SessionID string    `json:"sessionId"`
	StoppedAt time.Time `json:"stoppedAt"`
}

type historyFile struct {
	Entries []stoppedEntry `json:"entries"`
}

// History is the persistent stopped-session record. Session ids are matched
// case-insensitively. Persistence is best-effort: a failed write is logged
// and the in-memory state stays authoritative.
type History struct {
	path string
	log  *zap.Logger

	mu      sync.Mutex
	entries map[string]stoppedEntry // keyed by lowercased session id
}

// NewHistory loads (or starts) the history at path.
func NewHistory(path string, log *zap.Logger) *History {
	h := &History{path: path, log: log, entries: make(map[string]stoppedEntry)}
	h.load()
	return h
}

// RecordStopped marks a session as finished. Re-recording replaces the
// timestamp rather than duplicating the entry.
func (h *History) RecordStopped(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[strings.ToLower(sessionID)] = stoppedEntry{SessionID: sessionID, StoppedAt: time.Now()}
	if len(h.entries) > MaxEntries {
		h.pruneOldestLocked(len(h.entries) - MaxEntries)
	}
	h.saveLocked()
}

// IsStopped reports whether the session finished here within ttl.
func (h *History) IsStopped(sessionID string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[strings.ToLower(sessionID)]
	return ok && time.Since(e.StoppedAt) <= ttl
}

// CleanupExpired drops entries older than ttl and returns how many were
// removed. Invoked periodically from the daemon heartbeat.
func (h *History) CleanupExpired(ttl time.Duration) int {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cutoff := time.Now().Add(-ttl)
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for k, e := range h.entries {
		if e.StoppedAt.Before(cutoff) {
			delete(h.entries, k)
			removed++
		}
	}
	if removed > 0 {
		h.saveLocked()
	}
	return removed
}

// Len reports the current entry count.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *History) pruneOldestLocked(n int) {
	ordered := make([]stoppedEntry, 0, len(h.entries))
	for _, e := range h.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].StoppedAt.Before(ordered[j].StoppedAt) })
	for i := 0; i < n && i < len(ordered); i++ {
		delete(h.entries, strings.ToLower(ordered[i].SessionID))
	}
}

func (h *History) load() {
	raw, err := os.ReadFile(h.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			h.log.Warn("session history unreadable, starting empty", zap.String("path", h.path), zap.Error(err))
		}
		return
	}
	var f historyFile
	if err := json.Unmarshal(raw, &f); err != nil {
		h.log.Warn("session history corrupt, starting empty", zap.String("path", h.path), zap.Error(err))
		return
	}
	for _, e := range f.Entries {
		h.entries[strings.ToLower(e.SessionID)] = e
	}
}

// saveLocked writes the history atomically: temp file in the same
// directory, then rename, so a crash mid-write never corrupts the file.
func (h *History) saveLocked() {
	f := historyFile{Entries: make([]stoppedEntry, 0, len(h.entries))}
	for _, e := range h.entries {
		f.Entries = append(f.Entries, e)
	}
	sort.Slice(f.Entries, func(i, j int) bool { return f.Entries[i].StoppedAt.Before(f.Entries[j].StoppedAt) })

	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		h.log.Error("session history marshal failed", zap.Error(err))
		return
	}
	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		h.log.Warn("session history dir create failed", zap.Error(err))
		return
	}
	tmp, err := os.CreateTemp(dir, ".history-*")
	if err != nil {
		h.log.Warn("session history temp create failed", zap.Error(err))
		return
	}
	_, werr := tmp.Write(raw)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmp.Name())
		h.log.Warn("session history write failed", zap.NamedError("write", werr), zap.NamedError("close", cerr))
		return
	}
	if err := os.Rename(tmp.Name(), h.path); err != nil {
		_ = os.Remove(tmp.Name())
		h.log.Warn("session history rename failed", zap.Error(err))
	}
}
