package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides applies SKYDIVE_* environment variables to the config.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"SKYDIVE_LINK_ID":              &cfg.Link.ID,
		"SKYDIVE_LINK_URL":             &cfg.Link.URL,
		"SKYDIVE_MQTT_TOPIC":           &cfg.Link.MQTTTopic,
		"SKYDIVE_MQTT_USERNAME":        &cfg.Link.MQTTUsername,
		"SKYDIVE_MQTT_PASSWORD":        &cfg.Link.MQTTPassword,
		"SKYDIVE_ACTIONS_START_POLICY": &cfg.Actions.StartPolicy,
		"SKYDIVE_API_ADDR":             &cfg.API.Addr,
		"SKYDIVE_JWT_SECRET":           &cfg.API.JWTSecret,
		"SKYDIVE_JWT_PUBLIC_KEY_FILE":  &cfg.API.JWTPublicKeyFile,
		"SKYDIVE_LOG_LEVEL":            &cfg.Logging.Level,
		"SKYDIVE_LOG_FORMAT":           &cfg.Logging.Format,
		"SKYDIVE_LOG_FILE":             &cfg.Logging.File,
		"SKYDIVE_AUDIT_DIR":            &cfg.Audit.Dir,
		"SKYDIVE_STORE_PATH":           &cfg.Store.Path,
	}
	for key, dst := range strs {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	ints := map[string]*int{
		"SKYDIVE_LINK_BAUD_RATE":      &cfg.Link.BaudRate,
		"SKYDIVE_ACTIONS_MAX_RETRIES": &cfg.Actions.MaxRetries,
		"SKYDIVE_MONITOR_QUEUE_SIZE":  &cfg.Monitor.QueueSize,
	}
	for key, dst := range ints {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"SKYDIVE_ACTIONS_RESPONSE_TIMEOUT":     &cfg.Actions.ResponseTimeout,
		"SKYDIVE_ACTIONS_CONNECT_TIMEOUT":      &cfg.Actions.ConnectTimeout,
		"SKYDIVE_TELEMETRY_HEARTBEAT_INTERVAL": &cfg.Telemetry.HeartbeatInterval,
	}
	for key, dst := range durations {
		if val := os.Getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if val := os.Getenv("SKYDIVE_CONTROL_FREQUENCY_HZ"); val != "" {
		hz, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("SKYDIVE_CONTROL_FREQUENCY_HZ: %w", err)
		}
		cfg.Control.FrequencyHz = hz
	}

	bools := map[string]*bool{
		"SKYDIVE_CONTROL_ENABLED":   &cfg.Control.Enabled,
		"SKYDIVE_API_AUTH_DISABLED": &cfg.API.AuthDisabled,
		"SKYDIVE_MCP_ENABLED":       &cfg.MCP.Enabled,
		"SKYDIVE_CONNECT_ON_START":  &cfg.Actions.ConnectOnStart,
	}
	for key, dst := range bools {
		if val := os.Getenv(key); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	return nil
}
