// Package logging builds the daemon logger and the monitor trace sink.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/krystian-wojtas/skydive/internal/config"
)

// New creates a logger from cfg. When cfg.File is set, output goes to
// stderr and to a rotated file; the returned closer releases the file.
func New(cfg config.LoggingConfig) (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	log := logrus.New()
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return log, nopCloser{}, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return log, rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Tracer writes monitor traces as debug entries.
type Tracer struct {
	log *logrus.Entry
}

// NewTracer creates a tracer on log.
func NewTracer(log *logrus.Entry) *Tracer {
	return &Tracer{log: log.WithField("component", "trace")}
}

// Trace never fails; a broken sink loses the line.
func (t *Tracer) Trace(msg string) {
	defer func() {
		_ = recover()
	}()
	t.log.Debug(msg)
}
