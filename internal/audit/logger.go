package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/krystian-wojtas/skydive/internal/config"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	User      string    `json:"user"`
	LinkID    string    `json:"linkId"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Code      string    `json:"code"`
	LatencyMs int64     `json:"latencyMs"`
}

type contextKey int

const userKey contextKey = iota

// WithUser attaches the requesting user to ctx.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user set by WithUser, or "system".
func UserFromContext(ctx context.Context) string {
	if ctx != nil {
		if user, ok := ctx.Value(userKey).(string); ok && user != "" {
			return user
		}
	}
	return "system"
}

// Logger appends entries as JSON lines.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
	now      func() time.Time
}

// NewLogger opens <cfg.Dir>/audit.jsonl with size based rotation.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	filePath := filepath.Join(cfg.Dir, "audit.jsonl")
	return &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		},
		now: time.Now,
	}, nil
}

// LogAction records one lifecycle step. result is SUCCESS, STARTED or an
// error code.
func (l *Logger) LogAction(ctx context.Context, action, linkID, result string, latency time.Duration) {
	l.writeEntry(Entry{
		Timestamp: l.now().UTC(),
		User:      UserFromContext(ctx),
		LinkID:    linkID,
		Action:    action,
		Outcome:   outcomeOf(result),
		Code:      result,
		LatencyMs: latency.Milliseconds(),
	})
}

func (l *Logger) writeEntry(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

func outcomeOf(result string) string {
	switch result {
	case "SUCCESS":
		return "success"
	case "STARTED":
		return "started"
	case "RESTARTED":
		return "restarted"
	default:
		return "failed"
	}
}

// FilePath returns the active audit file.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Close flushes and closes the audit file. Later entries are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}
