package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/krystian-wojtas/skydive/internal/config"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Invalid audit line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestLogAction(t *testing.T) {
	logger, err := NewLogger(config.AuditConfig{Dir: t.TempDir(), MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return fixed }

	ctx := WithUser(context.Background(), "pilot-1")
	logger.LogAction(ctx, "radio_calibration", "uav-0", "STARTED", 0)
	logger.LogAction(ctx, "radio_calibration", "uav-0", "SUCCESS", 1500*time.Millisecond)
	logger.LogAction(context.Background(), "connect", "uav-0", "TIMEOUT", 5*time.Second)
	logger.LogAction(ctx, "radio_calibration", "uav-0", "RESTARTED", 200*time.Millisecond)

	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries := readEntries(t, logger.FilePath())
	if len(entries) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(entries))
	}

	tests := []struct {
		user, outcome, code string
		latency             int64
	}{
		{"pilot-1", "started", "STARTED", 0},
		{"pilot-1", "success", "SUCCESS", 1500},
		{"system", "failed", "TIMEOUT", 5000},
		{"pilot-1", "restarted", "RESTARTED", 200},
	}
	for i, tt := range tests {
		e := entries[i]
		if e.User != tt.user || e.Outcome != tt.outcome || e.Code != tt.code || e.LatencyMs != tt.latency {
			t.Errorf("Entry %d: expected %+v, got %+v", i, tt, e)
		}
		if !e.Timestamp.Equal(fixed) || e.LinkID != "uav-0" {
			t.Errorf("Entry %d: unexpected ts/link %v %s", i, e.Timestamp, e.LinkID)
		}
	}
}

func TestLogAfterClose(t *testing.T) {
	logger, err := NewLogger(config.AuditConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	_ = logger.Close()

	// Must not panic or recreate the file
	logger.LogAction(context.Background(), "connect", "uav-0", "SUCCESS", 0)
	if _, err := os.Stat(logger.FilePath()); !os.IsNotExist(err) {
		t.Errorf("Expected no audit file after close, got %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Expected idempotent close, got %v", err)
	}
}

func TestUserFromContext(t *testing.T) {
	if got := UserFromContext(context.Background()); got != "system" {
		t.Errorf("Expected system, got %s", got)
	}
	if got := UserFromContext(WithUser(context.Background(), "")); got != "system" {
		t.Errorf("Expected system for empty user, got %s", got)
	}
}
