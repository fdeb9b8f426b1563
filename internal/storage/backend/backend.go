// Package backend opens the checkpoint store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/internal/storage/filestore"
	"github.com/yndnr/rxcheckpoint/internal/storage/memory"
)

// Backend names.
const (
	Memory = "memory"
	Badger = "badger"
	SQLite = "sqlite"
	File   = "file"
)

// Locations below the data directory.
const (
	badgerDir  = "badger"
	sqliteFile = "checkpoints.db"
	fileDir    = "files"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is one of Memory, Badger, SQLite or File.
	Backend string

	// DataDir is the root of durable backends.
	DataDir string

	// Badger options; Dir is derived from DataDir.
	Badger storage.BadgerConfig

	// File options; Dir is derived from DataDir.
	File filestore.Config

	// Logger is the structured logger.
	Logger *slog.Logger

	// Registerer receives backend metrics when set.
	Registerer prometheus.Registerer
}

// Path returns where backend keeps its data below dataDir.
func Path(backend, dataDir string) (string, error) {
	switch backend {
	case Memory:
		return "", nil
	case Badger:
		return filepath.Join(dataDir, badgerDir), nil
	case SQLite:
		return filepath.Join(dataDir, sqliteFile), nil
	case File:
		return filepath.Join(dataDir, fileDir), nil
	}
	return "", fmt.Errorf("backend: unknown backend %q", backend)
}

// Open opens the configured store.
func Open(cfg Config) (storage.Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	path, err := Path(cfg.Backend, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if cfg.Backend != Memory && cfg.DataDir == "" {
		return nil, fmt.Errorf("backend: %s needs a data directory", cfg.Backend)
	}

	var s storage.Store
	switch cfg.Backend {
	case Memory:
		s = memory.New()

	case Badger:
		bc := cfg.Badger
		bc.Dir = path
		bs, err := storage.NewBadgerStore(bc, cfg.Logger.With("component", "badger"))
		if err != nil {
			return nil, err
		}
		if cfg.Registerer != nil {
			bs.RegisterMetrics(cfg.Registerer)
		}
		s = bs

	case SQLite:
		ss, err := storage.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		s = ss

	case File:
		fc := cfg.File
		fc.Dir = path
		fs, err := filestore.New(fc, cfg.Logger)
		if err != nil {
			return nil, err
		}
		s = fs
	}

	cfg.Logger.Info("checkpoint store opened", "backend", cfg.Backend, "path", path)
	return s, nil
}

// List returns the committed checkpoints of s ordered by id.
func List(ctx context.Context, s storage.Store) ([]storage.Info, error) {
	var ids []string
	switch st := s.(type) {
	case interface {
		List(context.Context) ([]storage.Info, error)
	}:
		return st.List(ctx)
	case interface{ IDs() ([]string, error) }:
		var err error
		if ids, err = st.IDs(); err != nil {
			return nil, err
		}
	case interface{ IDs() []string }:
		ids = st.IDs()
	default:
		return nil, fmt.Errorf("backend: %T cannot list checkpoints", s)
	}

	sort.Strings(ids)
	infos := make([]storage.Info, 0, len(ids))
	for _, id := range ids {
		r, ok, err := s.TryReadCurrent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("backend: read %s: %w", id, err)
		}
		if !ok {
			continue
		}
		infos = append(infos, r.Info())
		_ = r.Close()
	}
	return infos, nil
}
