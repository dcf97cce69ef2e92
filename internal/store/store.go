// Package store keeps named graph records.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gyaneshwarpardhi/nodegraph/internal/codec"
	"github.com/gyaneshwarpardhi/nodegraph/internal/config"
)

// ErrNotFound is returned when no record exists under a name.
var ErrNotFound = errors.New("record not found")

// Store persists graph records by name.
type Store interface {
	Save(ctx context.Context, name string, rec codec.Record) error
	Load(ctx context.Context, name string) (codec.Record, error)
	// List returns the stored names, sorted.
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// Open builds the store selected by conf.Driver.
func Open(conf config.StoreConf, logger *slog.Logger) (Store, error) {
	switch conf.Driver {
	case "", "file":
		return NewFileStore(conf.Path, codec.FormatYAML, logger)
	case "badger":
		return OpenBadger(BadgerConfig{Path: conf.Path, InMemory: conf.InMemory, Logger: logger})
	}
	return nil, fmt.Errorf("unknown store driver %q", conf.Driver)
}

// validName rejects names that could escape a store's namespace.
func validName(name string) error {
	if name == "" {
		return errors.New("record name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid record name %q", name)
	}
	return nil
}
