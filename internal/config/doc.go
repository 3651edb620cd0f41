// Package config loads, normalizes, and validates photoqueue configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, parses human-readable sizes such as "50MiB",
// and honours environment fallbacks such as PHOTOQUEUE_API_TOKEN and
// NTFY_TOPIC. The Config type centralizes every knob the daemon and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, parsed limits, and clear validation errors.
package config
