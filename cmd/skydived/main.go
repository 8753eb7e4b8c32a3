// Package main runs the UAV link daemon: one device link, its action
// monitor, the control loop and the operator API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/action"
	"github.com/krystian-wojtas/skydive/internal/api"
	"github.com/krystian-wojtas/skydive/internal/audit"
	"github.com/krystian-wojtas/skydive/internal/auth"
	"github.com/krystian-wojtas/skydive/internal/config"
	"github.com/krystian-wojtas/skydive/internal/control"
	"github.com/krystian-wojtas/skydive/internal/logging"
	"github.com/krystian-wojtas/skydive/internal/mcp"
	"github.com/krystian-wojtas/skydive/internal/monitor"
	"github.com/krystian-wojtas/skydive/internal/store"
	"github.com/krystian-wojtas/skydive/internal/telemetry"
	"github.com/krystian-wojtas/skydive/internal/transport"
)

// Version is reported by /health and the MCP handshake.
const Version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $SKYDIVE_CONFIG)")
	flag.Parse()

	// Step 1: Load configuration. The logger depends on it, so failures
	// here go through the standard logger.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logCloser.Close()

	entry := logger.WithField("link", cfg.Link.ID)
	entry.WithField("version", Version).Info("Starting skydive link daemon")

	if err := run(cfg, entry); err != nil {
		entry.WithError(err).Error("Daemon stopped with error")
		logCloser.Close()
		os.Exit(1)
	}
	entry.Info("Shutdown complete")
}

func run(cfg *config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 2: Audit trail and calibration store
	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer auditLogger.Close()
	log.WithField("file", auditLogger.FilePath()).Info("Audit logger initialized")

	var calibrations *store.Store
	if cfg.Store.Path != "" {
		calibrations, err = store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer calibrations.Close()
		log.WithField("path", cfg.Store.Path).Info("Calibration store opened")
	}

	// Step 3: Telemetry hub
	hub := telemetry.NewHub(cfg.Telemetry)
	defer hub.Stop()

	// Step 4: Device link
	link, err := transport.Open(ctx, cfg.Link, log)
	if err != nil {
		return err
	}
	defer link.Close()
	log.WithField("url", cfg.Link.URL).Info("Device link open")

	// Step 5: Monitor
	monCfg, err := monitor.FromConfig(cfg)
	if err != nil {
		return err
	}
	monCfg.Logger = log.WithField("component", "monitor")
	mon := monitor.NewDeviceMonitor(monCfg, link, logging.NewTracer(log))
	defer mon.Close()
	mon.SetPublisher(hub)
	mon.SetAuditLogger(auditLogger)
	if calibrations != nil {
		mon.SetCalibrationStore(calibrations)
	}

	linkErr := make(chan error, 1)
	go func() {
		linkErr <- transport.Pump(ctx, link, mon, log.WithField("component", "pump"))
	}()

	if cfg.Control.Enabled {
		loop := control.NewLoop(mon, link, log.WithField("component", "control"))
		go func() {
			_ = loop.Run(ctx)
		}()
	}

	if cfg.Actions.ConnectOnStart {
		if _, err := mon.StartAction(audit.WithUser(ctx, "startup"), action.TypeConnect); err != nil {
			log.WithError(err).Warn("Initial connect not started")
		}
	}

	// Step 6: Operator interfaces
	verifier, err := auth.FromConfig(cfg.API)
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}
	if verifier == nil {
		log.Warn("API authentication disabled")
	}
	server := api.NewServer(cfg.API, mon, hub, auth.NewMiddleware(verifier), log)
	if calibrations != nil {
		server.SetCalibrationReader(calibrations)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	if cfg.MCP.Enabled {
		tools := mcp.NewServer(mon, Version, log)
		go func() {
			if err := tools.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("MCP server stopped")
			}
		}()
	}

	// Step 7: Wait for a signal or a fatal component error
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case err := <-linkErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("device link lost: %w", err)
		}
	case err := <-serverErr:
		runErr = err
	}
	stop()

	// Hub first so open telemetry streams end and the server can drain
	hub.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server did not stop cleanly")
	}

	return runErr
}
