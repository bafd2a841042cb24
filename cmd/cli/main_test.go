package main

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/server/control"
	"github.com/Enflame-Media/Magic-Agent-sub018/internal/sessiontrack"
)

func startDaemon(t *testing.T) (addr string, tracker *sessiontrack.Tracker) {
	t.Helper()
	log := zaptest.NewLogger(t)
	history := sessiontrack.NewHistory(filepath.Join(t.TempDir(), "history.json"), log)
	tracker = sessiontrack.NewTracker(history, 0, log)
	srv := httptest.NewServer(control.NewHandler(tracker, log))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://"), tracker
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	if code != 0 || !strings.HasPrefix(out, "relayctl ") {
		t.Fatalf("code=%d out=%q", code, out)
	}
}

func TestUsageOnBadArgs(t *testing.T) {
	for _, args := range [][]string{nil, {"bogus"}, {"daemon"}, {"session"}, {"session", "status"}} {
		code, _, errOut := runCLI(t, args...)
		if code != exitUnknown {
			t.Fatalf("args=%v: code=%d, want %d", args, code, exitUnknown)
		}
		if errOut == "" {
			t.Fatalf("args=%v: expected usage or error output", args)
		}
	}
}

func TestDaemonHealth(t *testing.T) {
	addr, _ := startDaemon(t)

	code, out, _ := runCLI(t, "-control", addr, "daemon", "health")
	if code != 0 {
		t.Fatalf("code=%d", code)
	}
	if !strings.HasPrefix(out, "ok") {
		t.Fatalf("out=%q", out)
	}
}

func TestDaemonHealthUnreachable(t *testing.T) {
	code, _, errOut := runCLI(t, "-control", "127.0.0.1:1", "daemon", "health")
	if code != 1 {
		t.Fatalf("code=%d", code)
	}
	if !strings.Contains(errOut, "unreachable") {
		t.Fatalf("errOut=%q", errOut)
	}
}

func TestSessionStatusExitCodes(t *testing.T) {
	addr, tracker := startDaemon(t)

	code, out, _ := runCLI(t, "-control", addr, "session", "status", "-id", "s1")
	if code != exitUnknown || strings.TrimSpace(out) != "unknown" {
		t.Fatalf("code=%d out=%q", code, out)
	}

	tracker.SessionStarted("s1")
	code, out, _ = runCLI(t, "-control", addr, "session", "status", "-id", "S1")
	if code != exitActive || strings.TrimSpace(out) != "active" {
		t.Fatalf("code=%d out=%q", code, out)
	}

	tracker.SessionStopped("s1")
	code, out, _ = runCLI(t, "-control", addr, "session", "status", "-id", "s1")
	if code != exitStopped || strings.TrimSpace(out) != "stopped" {
		t.Fatalf("code=%d out=%q", code, out)
	}
}

func TestSessionStatusUnreachableDaemon(t *testing.T) {
	code, _, _ := runCLI(t, "-control", "127.0.0.1:1", "session", "status", "-id", "s1")
	if code != exitUnknown {
		t.Fatalf("code=%d", code)
	}
}
