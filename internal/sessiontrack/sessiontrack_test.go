package sessiontrack

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newHistory(t *testing.T) *History {
	t.Helper()
	return NewHistory(filepath.Join(t.TempDir(), "history.json"), zaptest.NewLogger(t))
}

func TestHistoryCaseInsensitive(t *testing.T) {
	h := newHistory(t)

	h.RecordStopped("ABC")
	require.True(t, h.IsStopped("abc", 0))
	require.True(t, h.IsStopped("AbC", 0))
	require.False(t, h.IsStopped("abcd", 0))
}

func TestHistoryRerecordIsIdempotent(t *testing.T) {
	h := newHistory(t)

	h.RecordStopped("sess-1")
	h.RecordStopped("SESS-1")
	h.RecordStopped("sess-1")
	require.Equal(t, 1, h.Len())
}

func TestHistoryCleanupExpired(t *testing.T) {
	h := newHistory(t)

	h.RecordStopped("short-lived")
	require.True(t, h.IsStopped("short-lived", 0))

	time.Sleep(10 * time.Millisecond)
	removed := h.CleanupExpired(5 * time.Millisecond)
	require.Equal(t, 1, removed)
	require.False(t, h.IsStopped("short-lived", 0))

	// nothing left to remove
	require.Equal(t, 0, h.CleanupExpired(5*time.Millisecond))
}

func TestHistoryTTLCheckedAtQuery(t *testing.T) {
	h := newHistory(t)

	h.RecordStopped("x")
	time.Sleep(10 * time.Millisecond)
	// expired entries answer false even before a cleanup pass
	require.False(t, h.IsStopped("x", 5*time.Millisecond))
	require.Equal(t, 1, h.Len())
}

func TestHistoryCapPrunesOldestFirst(t *testing.T) {
	h := newHistory(t)

	h.entries["old"] = stoppedEntry{SessionID: "old", StoppedAt: time.Now().Add(-time.Hour)}
	for i := 0; i < MaxEntries; i++ {
		h.RecordStopped(sessID(i))
	}
	require.Equal(t, MaxEntries, h.Len())
	require.False(t, h.IsStopped("old", 0))
	require.True(t, h.IsStopped(sessID(MaxEntries-1), 0))
}

func sessID(i int) string {
	return "sess-" + string(rune('a'+i%26)) + "-" + time.Now().Format("150405") + "-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}

func TestHistoryPersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	log := zaptest.NewLogger(t)

	h := NewHistory(path, log)
	h.RecordStopped("Survivor")

	reloaded := NewHistory(path, log)
	require.True(t, reloaded.IsStopped("survivor", 0))

	// the file is plain JSON with original-cased ids
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var f historyFile
	require.NoError(t, json.Unmarshal(raw, &f))
	require.Len(t, f.Entries, 1)
	require.Equal(t, "Survivor", f.Entries[0].SessionID)
}

func TestHistoryCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	h := NewHistory(path, zaptest.NewLogger(t))
	require.Equal(t, 0, h.Len())
}

func TestTrackerStatusTransitions(t *testing.T) {
	log := zaptest.NewLogger(t)
	tr := NewTracker(newHistory(t), 0, log)

	require.Equal(t, StatusUnknown, tr.Status("s1"))

	tr.SessionStarted("s1")
	require.Equal(t, StatusActive, tr.Status("S1"))
	require.ElementsMatch(t, []string{"s1"}, tr.Live())

	tr.SessionStopped("s1")
	require.Equal(t, StatusStopped, tr.Status("s1"))
	require.Empty(t, tr.Live())
}

func TestTrackerLiveWinsOverHistory(t *testing.T) {
	log := zaptest.NewLogger(t)
	tr := NewTracker(newHistory(t), 0, log)

	tr.SessionStopped("s1")
	tr.SessionStarted("S1")
	require.Equal(t, StatusActive, tr.Status("s1"))
}

func TestTrackerCleanup(t *testing.T) {
	log := zaptest.NewLogger(t)
	tr := NewTracker(newHistory(t), 5*time.Millisecond, log)

	tr.SessionStopped("gone")
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StatusUnknown, tr.Status("gone"))
	require.Equal(t, 1, tr.Cleanup())
}
