// Package main runs a simulated vehicle that speaks the device link over
// TCP, for bench testing the daemon against a tcp:// link URL.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/krystian-wojtas/skydive/internal/config"
	"github.com/krystian-wojtas/skydive/internal/logging"
	"github.com/krystian-wojtas/skydive/internal/sim"
)

func main() {
	addr := flag.String("addr", ":5760", "listen address")
	scenarioPath := flag.String("scenario", "", "path to YAML fault scenario")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, logCloser, err := logging.New(config.LoggingConfig{Level: *level})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logCloser.Close()
	entry := logger.WithField("service", "uavsim")

	scenario, err := sim.LoadScenario(*scenarioPath)
	if err != nil {
		entry.WithError(err).Fatal("Failed to load scenario")
	}
	entry.WithField("scenario", scenario).Info("Starting vehicle simulator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := sim.NewServer(scenario, entry)
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe(*addr)
	}()

	select {
	case <-ctx.Done():
		entry.Info("Shutting down")
	case err := <-errChan:
		if err != nil {
			entry.WithError(err).Fatal("Simulator failed")
		}
	}

	if err := srv.Close(); err != nil {
		entry.WithError(err).Warn("Close failed")
	}
	entry.Info("Simulator stopped")
}
