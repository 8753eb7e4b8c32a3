package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for values the daemon cannot run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateLink(&cfg.Link); err != nil {
		return fmt.Errorf("link validation failed: %w", err)
	}

	if err := validateActions(&cfg.Actions); err != nil {
		return fmt.Errorf("actions validation failed: %w", err)
	}

	// A zero frequency falls back to the monitor default
	if cfg.Control.FrequencyHz < 0 || cfg.Control.FrequencyHz > 500 {
		return fmt.Errorf("control frequency %.1f Hz is outside range [0, 500]", cfg.Control.FrequencyHz)
	}

	if cfg.Monitor.QueueSize <= 0 {
		return fmt.Errorf("monitor queue size must be positive, got %d", cfg.Monitor.QueueSize)
	}
	if cfg.Monitor.UavEventHistory < 0 {
		return fmt.Errorf("uav event history must be non-negative, got %d", cfg.Monitor.UavEventHistory)
	}

	if err := validateLogging(&cfg.Logging); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	if cfg.Telemetry.EventBufferSize <= 0 {
		return fmt.Errorf("telemetry event buffer size must be positive, got %d", cfg.Telemetry.EventBufferSize)
	}
	if cfg.Telemetry.ClientBufferSize <= 0 {
		return fmt.Errorf("telemetry client buffer size must be positive, got %d", cfg.Telemetry.ClientBufferSize)
	}
	if cfg.Telemetry.HeartbeatInterval <= 0 {
		return fmt.Errorf("telemetry heartbeat interval must be positive, got %v", cfg.Telemetry.HeartbeatInterval)
	}

	if !cfg.API.AuthDisabled && cfg.API.JWTSecret == "" && cfg.API.JWTPublicKeyFile == "" {
		return fmt.Errorf("api auth requires jwtSecret or jwtPublicKeyFile, or authDisabled")
	}

	return nil
}

func validateLink(link *LinkConfig) error {
	if link.ID == "" {
		return fmt.Errorf("link id must not be empty")
	}

	u, err := url.Parse(link.URL)
	if err != nil {
		return fmt.Errorf("invalid link url %q: %w", link.URL, err)
	}

	switch u.Scheme {
	case "serial":
		if link.BaudRate <= 0 {
			return fmt.Errorf("serial baud rate must be positive, got %d", link.BaudRate)
		}
	case "tcp":
		if u.Host == "" {
			return fmt.Errorf("tcp link url %q has no host", link.URL)
		}
	case "mqtt", "mqtts", "ws", "wss":
		if link.MQTTTopic == "" {
			return fmt.Errorf("mqtt link requires a topic")
		}
	default:
		return fmt.Errorf("unsupported link scheme %q", u.Scheme)
	}

	return nil
}

func validateActions(a *ActionsConfig) error {
	if a.ResponseTimeout <= 0 {
		return fmt.Errorf("response timeout must be positive, got %v", a.ResponseTimeout)
	}
	if a.ConnectTimeout < a.ResponseTimeout {
		return fmt.Errorf("connect timeout %v must be >= response timeout %v", a.ConnectTimeout, a.ResponseTimeout)
	}
	if a.MaxRetries < 0 || a.MaxRetries > 20 {
		return fmt.Errorf("max retries %d is outside range [0, 20]", a.MaxRetries)
	}
	if a.StartPolicy != "reject" && a.StartPolicy != "restart" {
		return fmt.Errorf("invalid start policy %q, must be reject or restart", a.StartPolicy)
	}
	return nil
}

func validateLogging(l *LoggingConfig) error {
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be text or json", l.Format)
	}
	switch l.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", l.Level)
	}
	return nil
}
