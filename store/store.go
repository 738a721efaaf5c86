// Package store loads revocation evidence kept outside the documents being
// validated, from a directory tree or a PostgreSQL table.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/georgepadayatti/goades/certvalidator/revinfo"
	"github.com/georgepadayatti/goades/config"
)

// Store is a source of revocation evidence.
type Store interface {
	// Load returns every certificate, CRL and OCSP response in the store.
	// Items that fail to parse are reported in the error; the returned set
	// holds everything that did parse.
	Load(ctx context.Context) (*revinfo.EvidenceSet, error)

	Close() error
}

// Open creates the store described by cfg. It returns a nil store when no
// store is configured.
func Open(ctx context.Context, cfg *config.StoreConfig, logger *slog.Logger) (Store, error) {
	if cfg == nil || cfg.Type == config.StoreTypeNone {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.Timeout) * time.Second

	switch cfg.Type {
	case config.StoreTypeDirectory:
		return &DirectoryStore{Path: cfg.Path, Logger: logger}, nil
	case config.StoreTypePostgres:
		s, err := NewPostgresStore(ctx, cfg.DSN, cfg.Table, timeout, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store type %q", cfg.Type)
	}
}
