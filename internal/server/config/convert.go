package config

import (
	"fmt"
	"log/slog"

	"github.com/yndnr/rxcheckpoint/internal/engine"
	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/internal/storage/backend"
	"github.com/yndnr/rxcheckpoint/internal/storage/filestore"
	"github.com/yndnr/rxcheckpoint/internal/storage/snapshot"
	"github.com/yndnr/rxcheckpoint/internal/storage/wal"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/logger"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/tracer"
)

// BackendConfig maps the storage section onto backend options.
func (c *ServerConfig) BackendConfig(log *slog.Logger) (backend.Config, error) {
	s := c.Storage
	bc := storage.DefaultBadgerConfig("")
	bc.SyncWrites = s.Badger.SyncWrites
	if s.Badger.GCInterval > 0 {
		bc.GCInterval = s.Badger.GCInterval.String()
	}
	if s.Badger.GCThreshold > 0 {
		bc.GCThreshold = s.Badger.GCThreshold
	}
	if s.Badger.CacheSizeMB > 0 {
		bc.CacheSize = int64(s.Badger.CacheSizeMB) << 20
	}

	fc := filestore.DefaultConfig("")
	if s.File.RetentionCount > 0 {
		fc.SnapshotRetention = s.File.RetentionCount
	}
	if s.File.WALMaxBytes > 0 {
		fc.WALMaxBytes = s.File.WALMaxBytes
	}
	if s.File.SyncMode != "" {
		fc.SyncMode = wal.SyncMode(s.File.SyncMode)
	}
	fc.Encryption.Algorithm = s.File.Algorithm
	switch {
	case s.File.EncryptionKey != "":
		key, err := snapshot.ParseKey(s.File.EncryptionKey)
		if err != nil {
			return backend.Config{}, fmt.Errorf("storage.file.encryption_key: %w", err)
		}
		fc.Encryption.Key = key
	case s.File.Passphrase != "":
		fc.Encryption.Passphrase = []byte(s.File.Passphrase)
	}

	return backend.Config{
		Backend: s.Backend,
		DataDir: s.DataDir,
		Badger:  bc,
		File:    fc,
		Logger:  log,
	}, nil
}

// ApplyEngine copies the engine section onto opts.
func (c *ServerConfig) ApplyEngine(opts *engine.Options) {
	e := c.Engine
	if e.ID != "" {
		opts.ID = e.ID
	}
	if e.CheckpointID != "" {
		opts.CheckpointID = e.CheckpointID
	}
	opts.CheckpointParallelism = e.CheckpointParallelism
	opts.RecoveryParallelism = e.RecoveryParallelism
	opts.TemplatizeExpressions = e.TemplatizeExpressions
}

// CheckpointerConfig returns the periodic checkpoint settings.
func (c *ServerConfig) CheckpointerConfig(log *slog.Logger) engine.CheckpointerConfig {
	return engine.CheckpointerConfig{
		Interval:  c.Engine.CheckpointInterval,
		FullEvery: c.Engine.FullEvery,
		Timeout:   c.Engine.CheckpointTimeout,
		Logger:    log,
	}
}

// LoggerConfig returns the logger settings.
func (c *ServerConfig) LoggerConfig() logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	return lc
}

// TracerConfig returns the tracing settings.
func (c *ServerConfig) TracerConfig() tracer.Config {
	t := c.Telemetry.Tracing
	return tracer.Config{
		Enabled:     t.Enabled,
		Exporter:    t.Exporter,
		ServiceName: t.ServiceName,
		SampleRatio: t.SampleRatio,
	}
}

// Defaults flattens Default() into dotted keys for confloader.WithDefaults.
// Durations are rendered as strings so they decode like file values.
func Defaults() map[string]any {
	d := Default()
	return map[string]any{
		"engine.checkpoint_parallelism":  d.Engine.CheckpointParallelism,
		"engine.checkpoint_interval":     d.Engine.CheckpointInterval.String(),
		"engine.checkpoint_timeout":      d.Engine.CheckpointTimeout.String(),
		"engine.full_every":              d.Engine.FullEvery,
		"engine.recover_on_start":        d.Engine.RecoverOnStart,
		"engine.final_checkpoint":        d.Engine.FinalCheckpoint,
		"engine.workers":                 d.Engine.Workers,
		"storage.backend":                d.Storage.Backend,
		"storage.data_dir":               d.Storage.DataDir,
		"storage.badger.sync_writes":     d.Storage.Badger.SyncWrites,
		"storage.badger.gc_interval":     d.Storage.Badger.GCInterval.String(),
		"storage.badger.gc_threshold":    d.Storage.Badger.GCThreshold,
		"storage.badger.cache_size_mb":   d.Storage.Badger.CacheSizeMB,
		"storage.file.retention_count":   d.Storage.File.RetentionCount,
		"storage.file.sync_mode":         d.Storage.File.SyncMode,
		"server.http.addr":               d.Server.HTTP.Addr,
		"server.http.rate_burst":         d.Server.HTTP.RateBurst,
		"server.http.read_timeout":       d.Server.HTTP.ReadTimeout.String(),
		"server.http.write_timeout":      d.Server.HTTP.WriteTimeout.String(),
		"server.http.shutdown_timeout":   d.Server.HTTP.ShutdownTimeout.String(),
		"log.level":                      d.Log.Level,
		"log.format":                     d.Log.Format,
		"telemetry.metrics.enabled":      d.Telemetry.Metrics.Enabled,
		"telemetry.metrics.path":         d.Telemetry.Metrics.Path,
		"telemetry.tracing.exporter":     d.Telemetry.Tracing.Exporter,
		"telemetry.tracing.service_name": d.Telemetry.Tracing.ServiceName,
		"telemetry.tracing.sample_ratio": d.Telemetry.Tracing.SampleRatio,
	}
}
