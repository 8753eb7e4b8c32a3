package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/auth"
	"github.com/krystian-wojtas/skydive/internal/config"
)

// Server is the operator HTTP server.
type Server struct {
	cfg         config.APIConfig
	monitor     MonitorPort
	hub         TelemetryPort
	calibration CalibrationReader
	auth        *auth.Middleware
	log         *logrus.Entry
	httpServer  *http.Server
	startTime   time.Time
}

// NewServer creates a server. A nil middleware runs without authentication.
func NewServer(cfg config.APIConfig, m MonitorPort, hub TelemetryPort, mw *auth.Middleware, log *logrus.Entry) *Server {
	if mw == nil {
		mw = auth.NewMiddleware(nil)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		cfg:       cfg,
		monitor:   m,
		hub:       hub,
		auth:      mw,
		log:       log.WithField("component", "api"),
		startTime: time.Now(),
	}
}

// SetCalibrationReader enables the calibration endpoints.
func (s *Server) SetCalibrationReader(r CalibrationReader) {
	s.calibration = r
}

// Start serves on cfg.Addr until Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.log.WithField("addr", s.cfg.Addr).Info("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
