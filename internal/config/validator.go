package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/nodegraph/internal/codec"
)

// Validate checks required fields, ranges and enum values. All problems are
// reported together.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	e := cfg.Engine
	if e.TickIntervalMs < 0 {
		errs = append(errs, fmt.Sprintf("engine.tick_interval_ms must be >= 0, got %d", e.TickIntervalMs))
	}
	if e.QueueDepth < 1 {
		errs = append(errs, fmt.Sprintf("engine.queue_depth must be >= 1, got %d", e.QueueDepth))
	}
	if e.TickTimeoutMs < 1 {
		errs = append(errs, fmt.Sprintf("engine.tick_timeout_ms must be >= 1, got %d", e.TickTimeoutMs))
	}
	if e.BufferSize < 1 {
		errs = append(errs, fmt.Sprintf("engine.buffer_size must be >= 1, got %d", e.BufferSize))
	}

	if cfg.Graph.Format != "" {
		if _, err := codec.ParseFormat(cfg.Graph.Format); err != nil {
			errs = append(errs, fmt.Sprintf("graph.format: %v", err))
		}
	}
	if cfg.Graph.Watch && cfg.Graph.Path == "" {
		errs = append(errs, "graph.watch requires graph.path")
	}

	switch cfg.Store.Driver {
	case "file":
		if cfg.Store.Path == "" {
			errs = append(errs, "store.path is required for the file driver")
		}
		if cfg.Store.InMemory {
			errs = append(errs, "store.in_memory is only supported by the badger driver")
		}
	case "badger":
		if cfg.Store.Path == "" && !cfg.Store.InMemory {
			errs = append(errs, "store.path is required unless store.in_memory is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be file or badger, got %q", cfg.Store.Driver))
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be text or json, got %q", cfg.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
