package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/engine"
	"github.com/yndnr/rxcheckpoint/internal/infra/confloader"
	"github.com/yndnr/rxcheckpoint/internal/storage/memory"
	"github.com/yndnr/rxcheckpoint/internal/storage/snapshot"
)

func validConfig(t *testing.T) *ServerConfig {
	t.Helper()
	cfg := Default()
	cfg.Storage.DataDir = t.TempDir()
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTP.Addr)
	assert.Equal(t, DefaultStorageBackend, cfg.Storage.Backend)
	assert.Equal(t, 1, cfg.Engine.CheckpointParallelism)
	assert.Equal(t, DefaultCheckpointInterval, cfg.Engine.CheckpointInterval)
	assert.True(t, cfg.Engine.RecoverOnStart, "recovery on start should be on by default")
	assert.True(t, cfg.Engine.FinalCheckpoint, "final checkpoint should be on by default")
	assert.False(t, cfg.Engine.TemplatizeExpressions)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
	assert.False(t, cfg.Telemetry.Tracing.Enabled)
}

func TestVerify_Default(t *testing.T) {
	require.NoError(t, Verify(validConfig(t)))
}

func TestVerify_Errors(t *testing.T) {
	key := snapshot.FormatKey([]byte("0123456789abcdef0123456789abcdef"))

	tests := []struct {
		name   string
		modify func(*ServerConfig)
		want   string
	}{
		{"negative parallelism", func(c *ServerConfig) { c.Engine.CheckpointParallelism = -1 }, "checkpoint_parallelism"},
		{"negative interval", func(c *ServerConfig) { c.Engine.CheckpointInterval = -time.Second }, "checkpoint_interval"},
		{"unknown backend", func(c *ServerConfig) { c.Storage.Backend = "tape" }, "storage.backend"},
		{"missing data dir", func(c *ServerConfig) { c.Storage.DataDir = "" }, "data_dir"},
		{"gc threshold", func(c *ServerConfig) { c.Storage.Badger.GCThreshold = 1 }, "gc_threshold"},
		{"bad key", func(c *ServerConfig) { c.Storage.File.EncryptionKey = "not-a-key" }, "encryption_key"},
		{"key and passphrase", func(c *ServerConfig) {
			c.Storage.File.EncryptionKey = key
			c.Storage.File.Passphrase = "correct horse battery staple"
		}, "mutually exclusive"},
		{"weak passphrase", func(c *ServerConfig) { c.Storage.File.Passphrase = "short" }, "passphrase"},
		{"algorithm", func(c *ServerConfig) { c.Storage.File.Algorithm = "rot13" }, "algorithm"},
		{"sync mode", func(c *ServerConfig) { c.Storage.File.SyncMode = "never" }, "sync_mode"},
		{"http addr", func(c *ServerConfig) { c.Server.HTTP.Addr = "localhost" }, "server.http.addr"},
		{"tls pair", func(c *ServerConfig) { c.Server.HTTP.TLSCertFile = "/tmp/cert.pem" }, "set together"},
		{"client ca without tls", func(c *ServerConfig) { c.Server.HTTP.ClientCAFile = "/tmp/ca.pem" }, "client_ca_file requires"},
		{"rate burst", func(c *ServerConfig) {
			c.Server.HTTP.RateLimit = 10
			c.Server.HTTP.RateBurst = 0
		}, "rate_burst"},
		{"admin token", func(c *ServerConfig) { c.Server.HTTP.AdminToken = "short" }, "admin_token"},
		{"admin token hash", func(c *ServerConfig) { c.Server.HTTP.AdminTokenHash = "abc" }, "admin_token_hash"},
		{"admin token and hash", func(c *ServerConfig) {
			c.Server.HTTP.AdminToken = "0123456789abcdefXYZ"
			c.Server.HTTP.AdminTokenHash = strings.Repeat("a", 64)
		}, "mutually exclusive"},
		{"local socket", func(c *ServerConfig) { c.Server.Local.SocketPath = "run/rx.sock" }, "socket_path"},
		{"allow list", func(c *ServerConfig) { c.Server.HTTP.AdminAllowList = []string{"10.0.0.0/33"} }, "admin_allow_list"},
		{"allow list ip", func(c *ServerConfig) { c.Server.HTTP.AdminAllowList = []string{"nope"} }, "admin_allow_list"},
		{"log level", func(c *ServerConfig) { c.Log.Level = "verbose" }, "log.level"},
		{"log format", func(c *ServerConfig) { c.Log.Format = "xml" }, "log.format"},
		{"metrics path", func(c *ServerConfig) { c.Telemetry.Metrics.Path = "metrics" }, "metrics.path"},
		{"exporter", func(c *ServerConfig) {
			c.Telemetry.Tracing.Enabled = true
			c.Telemetry.Tracing.Exporter = "jaeger"
		}, "exporter"},
		{"sample ratio", func(c *ServerConfig) { c.Telemetry.Tracing.SampleRatio = 2 }, "sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)
			err := Verify(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestVerify_ReportsAll(t *testing.T) {
	cfg := validConfig(t)
	cfg.Engine.Workers = -1
	cfg.Log.Level = "loud"
	cfg.Server.HTTP.Addr = ""

	err := Verify(cfg)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3, err.Error())
}

func TestVerify_MemoryNeedsNoDataDir(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "memory"
	cfg.Storage.DataDir = ""
	require.NoError(t, Verify(cfg))
}

func TestSanitize(t *testing.T) {
	key := snapshot.FormatKey([]byte("0123456789abcdef0123456789abcdef"))
	cfg := Default()
	cfg.Storage.File.EncryptionKey = key
	cfg.Storage.File.Passphrase = "correct horse battery staple"

	sanitized := Sanitize(cfg)
	assert.Equal(t, key, cfg.Storage.File.EncryptionKey, "original config must not be modified")
	assert.NotEqual(t, key, sanitized.Storage.File.EncryptionKey, "encryption key not masked")
	assert.True(t, strings.HasPrefix(sanitized.Storage.File.EncryptionKey, snapshot.KeyPrefix),
		"masked key %q should keep its prefix", sanitized.Storage.File.EncryptionKey)
	assert.NotContains(t, sanitized.Storage.File.Passphrase, "battery")

	cfg.Server.HTTP.AdminToken = "0123456789abcdefXYZ"
	assert.NotContains(t, Sanitize(cfg).Server.HTTP.AdminToken, "abcdef")

	assert.Empty(t, Sanitize(Default()).Storage.File.EncryptionKey, "empty key should stay empty")
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":           "****",
		"abc":        "****",
		"abcdefgh":   "****",
		"abcdefghij": "abcd****ij",
	}
	for in, want := range tests {
		assert.Equal(t, want, maskSecret(in), "maskSecret(%q)", in)
	}
}

func TestBackendConfig(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")
	cfg := validConfig(t)
	cfg.Storage.Backend = "file"
	cfg.Storage.File.EncryptionKey = snapshot.FormatKey(raw)
	cfg.Storage.File.RetentionCount = 5
	cfg.Storage.Badger.CacheSizeMB = 8

	bc, err := cfg.BackendConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "file", bc.Backend)
	assert.Equal(t, cfg.Storage.DataDir, bc.DataDir)
	assert.Equal(t, raw, []byte(bc.File.Encryption.Key), "encryption key not decoded")
	assert.EqualValues(t, 5, bc.File.SnapshotRetention)
	assert.EqualValues(t, 8<<20, bc.Badger.CacheSize)
	assert.Equal(t, "10m0s", bc.Badger.GCInterval)
}

func TestApplyEngine(t *testing.T) {
	cfg := Default()
	cfg.Engine.ID = "edge-7"
	cfg.Engine.CheckpointParallelism = 4
	cfg.Engine.TemplatizeExpressions = true

	opts := engine.DefaultOptions(memory.New())
	cfg.ApplyEngine(&opts)
	assert.Equal(t, "edge-7", opts.ID)
	assert.Equal(t, 4, opts.CheckpointParallelism)
	assert.True(t, opts.TemplatizeExpressions)
	assert.Equal(t, engine.DefaultCheckpointID, opts.CheckpointID)
}

func TestLoadWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	content := "engine:\n  checkpoint_parallelism: 3\nstorage:\n  backend: sqlite\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("RXCKPT_ENGINE__FULL_EVERY", "4")

	loader := confloader.NewLoader(confloader.WithConfigFile(path), confloader.WithDefaults(Defaults()))
	cfg := Default()
	require.NoError(t, loader.Load(cfg))
	assert.Equal(t, 3, cfg.Engine.CheckpointParallelism)
	assert.EqualValues(t, 4, cfg.Engine.FullEvery)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, DefaultCheckpointInterval, cfg.Engine.CheckpointInterval)
	assert.Equal(t, DefaultShutdownTimeout, cfg.Server.HTTP.ShutdownTimeout)
}
