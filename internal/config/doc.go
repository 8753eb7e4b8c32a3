// Package config loads the link daemon configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// SKYDIVE_* environment variables, and are validated last.
package config
