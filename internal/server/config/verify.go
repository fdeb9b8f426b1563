package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/yndnr/rxcheckpoint/internal/storage/snapshot"
	"github.com/yndnr/rxcheckpoint/pkg/token"
)

// Valid enumerations.
var (
	Backends     = []string{"memory", "badger", "sqlite", "file"}
	LogLevels    = []string{"debug", "info", "warn", "error"}
	LogFormats   = []string{"json", "text"}
	Exporters    = []string{"stdout", "none"}
	Algorithms   = []string{"", "aes-gcm", "chacha20-poly1305"}
	WALSyncModes = []string{"", "sync", "batch"}
)

// MinAdminTokenLength is the shortest accepted admin token.
const MinAdminTokenLength = 16

// Verify validates the configuration and reports every problem found.
// Durable backends get their data directory created.
func Verify(cfg *ServerConfig) error {
	var errs *multierror.Error
	errs = multierror.Append(errs, verifyEngine(&cfg.Engine)...)
	errs = multierror.Append(errs, verifyStorage(&cfg.Storage)...)
	errs = multierror.Append(errs, verifyServer(&cfg.Server)...)
	errs = multierror.Append(errs, verifyLog(&cfg.Log)...)
	errs = multierror.Append(errs, verifyTelemetry(&cfg.Telemetry)...)
	return errs.ErrorOrNil()
}

func verifyEngine(cfg *EngineSection) []error {
	var errs []error
	if cfg.CheckpointParallelism < 0 {
		errs = append(errs, errors.New("engine.checkpoint_parallelism must not be negative"))
	}
	if cfg.RecoveryParallelism < 0 {
		errs = append(errs, errors.New("engine.recovery_parallelism must not be negative"))
	}
	if cfg.CheckpointInterval < 0 {
		errs = append(errs, errors.New("engine.checkpoint_interval must not be negative"))
	}
	if cfg.CheckpointTimeout < 0 {
		errs = append(errs, errors.New("engine.checkpoint_timeout must not be negative"))
	}
	if cfg.FullEvery < 0 {
		errs = append(errs, errors.New("engine.full_every must not be negative"))
	}
	if cfg.Workers < 0 {
		errs = append(errs, errors.New("engine.workers must not be negative"))
	}
	if cfg.CheckpointID != "" && strings.IndexByte(cfg.CheckpointID, 0) >= 0 {
		errs = append(errs, errors.New("engine.checkpoint_id contains NUL"))
	}
	return errs
}

func verifyStorage(cfg *StorageSection) []error {
	var errs []error
	if !slices.Contains(Backends, cfg.Backend) {
		errs = append(errs, fmt.Errorf("storage.backend %q must be one of %s", cfg.Backend, strings.Join(Backends, ", ")))
	}
	if cfg.Backend != "memory" {
		if cfg.DataDir == "" {
			errs = append(errs, errors.New("storage.data_dir is required"))
		} else if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
			errs = append(errs, fmt.Errorf("cannot create data directory: %w", err))
		}
	}

	if cfg.Badger.GCThreshold < 0 || cfg.Badger.GCThreshold >= 1 {
		errs = append(errs, errors.New("storage.badger.gc_threshold must be in [0, 1)"))
	}
	if cfg.Badger.CacheSizeMB < 0 {
		errs = append(errs, errors.New("storage.badger.cache_size_mb must not be negative"))
	}

	f := cfg.File
	if f.RetentionCount < 0 {
		errs = append(errs, errors.New("storage.file.retention_count must not be negative"))
	}
	if f.WALMaxBytes < 0 {
		errs = append(errs, errors.New("storage.file.wal_max_bytes must not be negative"))
	}
	if !slices.Contains(WALSyncModes, f.SyncMode) {
		errs = append(errs, fmt.Errorf("storage.file.sync_mode %q must be sync or batch", f.SyncMode))
	}
	if !slices.Contains(Algorithms, f.Algorithm) {
		errs = append(errs, fmt.Errorf("storage.file.algorithm %q is not supported", f.Algorithm))
	}
	if f.EncryptionKey != "" && f.Passphrase != "" {
		errs = append(errs, errors.New("storage.file.encryption_key and storage.file.passphrase are mutually exclusive"))
	}
	if f.EncryptionKey != "" {
		if _, err := snapshot.ParseKey(f.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("storage.file.encryption_key: %w", err))
		}
	}
	if f.Passphrase != "" && len(f.Passphrase) < snapshot.MinPassphraseLength {
		errs = append(errs, fmt.Errorf("storage.file.passphrase must be at least %d characters", snapshot.MinPassphraseLength))
	}
	return errs
}

func verifyServer(cfg *ServerSection) []error {
	var errs []error
	if p := cfg.Local.SocketPath; p != "" && !filepath.IsAbs(p) {
		errs = append(errs, errors.New("server.local.socket_path must be absolute"))
	}
	h := cfg.HTTP
	if h.Addr == "" {
		errs = append(errs, errors.New("server.http.addr is required"))
	} else if _, _, err := net.SplitHostPort(h.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.http.addr: %w", err))
	}
	if (h.TLSCertFile == "") != (h.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.http.tls_cert_file and tls_key_file must be set together"))
	}
	if h.ClientCAFile != "" && h.TLSCertFile == "" {
		errs = append(errs, errors.New("server.http.client_ca_file requires tls_cert_file and tls_key_file"))
	}
	for _, f := range []string{h.TLSCertFile, h.TLSKeyFile, h.ClientCAFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			errs = append(errs, fmt.Errorf("server.http: %w", err))
		}
	}
	if h.RateLimit < 0 {
		errs = append(errs, errors.New("server.http.rate_limit must not be negative"))
	}
	if h.RateLimit > 0 && h.RateBurst < 1 {
		errs = append(errs, errors.New("server.http.rate_burst must be at least 1 when rate_limit is set"))
	}
	if h.AdminToken != "" && len(h.AdminToken) < MinAdminTokenLength {
		errs = append(errs, fmt.Errorf("server.http.admin_token must be at least %d characters", MinAdminTokenLength))
	}
	if h.AdminTokenHash != "" {
		if h.AdminToken != "" {
			errs = append(errs, errors.New("server.http.admin_token and admin_token_hash are mutually exclusive"))
		}
		if _, err := token.NormalizeHash(h.AdminTokenHash); err != nil {
			errs = append(errs, fmt.Errorf("server.http.admin_token_hash: %w", err))
		}
	}
	for _, entry := range h.AdminAllowList {
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				errs = append(errs, fmt.Errorf("server.http.admin_allow_list: %w", err))
			}
		} else if net.ParseIP(entry) == nil {
			errs = append(errs, fmt.Errorf("server.http.admin_allow_list: invalid IP %q", entry))
		}
	}
	return errs
}

func verifyLog(cfg *LogSection) []error {
	var errs []error
	if !slices.Contains(LogLevels, strings.ToLower(cfg.Level)) {
		errs = append(errs, fmt.Errorf("log.level %q must be one of %s", cfg.Level, strings.Join(LogLevels, ", ")))
	}
	if !slices.Contains(LogFormats, strings.ToLower(cfg.Format)) {
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", cfg.Format))
	}
	return errs
}

func verifyTelemetry(cfg *TelemetrySection) []error {
	var errs []error
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, errors.New("telemetry.metrics.path must start with /"))
	}
	if cfg.Tracing.Enabled && !slices.Contains(Exporters, cfg.Tracing.Exporter) {
		errs = append(errs, fmt.Errorf("telemetry.tracing.exporter %q must be stdout or none", cfg.Tracing.Exporter))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.tracing.sample_ratio must be in [0, 1]"))
	}
	return errs
}
