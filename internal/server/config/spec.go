package config

import "time"

// ServerConfig is the root configuration for rxcheckpoint-server.
type ServerConfig struct {
	Engine    EngineSection    `koanf:"engine" json:"engine" yaml:"engine"`
	Storage   StorageSection   `koanf:"storage" json:"storage" yaml:"storage"`
	Server    ServerSection    `koanf:"server" json:"server" yaml:"server"`
	Log       LogSection       `koanf:"log" json:"log" yaml:"log"`
	Telemetry TelemetrySection `koanf:"telemetry" json:"telemetry" yaml:"telemetry"`
}

// EngineSection configures the engine and its periodic checkpoints.
type EngineSection struct {
	// ID names the engine in logs and errors. Generated when empty.
	ID string `koanf:"id" json:"id" yaml:"id"`

	// CheckpointID is the store key the engine checkpoints under.
	CheckpointID string `koanf:"checkpoint_id" json:"checkpoint_id" yaml:"checkpoint_id"`

	// CheckpointParallelism bounds concurrent entity saves. 0 means 1.
	CheckpointParallelism int `koanf:"checkpoint_parallelism" json:"checkpoint_parallelism" yaml:"checkpoint_parallelism"`

	// RecoveryParallelism bounds concurrent entity loads. 0 means NumCPU/2.
	RecoveryParallelism int `koanf:"recovery_parallelism" json:"recovery_parallelism" yaml:"recovery_parallelism"`

	// TemplatizeExpressions stores expressions as template references.
	TemplatizeExpressions bool `koanf:"templatize_expressions" json:"templatize_expressions" yaml:"templatize_expressions"`

	// CheckpointInterval between periodic checkpoints; 0 disables them.
	CheckpointInterval time.Duration `koanf:"checkpoint_interval" json:"checkpoint_interval" yaml:"checkpoint_interval"`

	// CheckpointTimeout bounds one checkpoint.
	CheckpointTimeout time.Duration `koanf:"checkpoint_timeout" json:"checkpoint_timeout" yaml:"checkpoint_timeout"`

	// FullEvery makes every Nth periodic checkpoint full and the rest
	// differential. 1 makes all of them full.
	FullEvery int `koanf:"full_every" json:"full_every" yaml:"full_every"`

	// RecoverOnStart restores the committed checkpoint at startup.
	RecoverOnStart bool `koanf:"recover_on_start" json:"recover_on_start" yaml:"recover_on_start"`

	// FinalCheckpoint takes a full checkpoint during shutdown.
	FinalCheckpoint bool `koanf:"final_checkpoint" json:"final_checkpoint" yaml:"final_checkpoint"`

	// Workers is the size of the scheduler worker pool.
	Workers int `koanf:"workers" json:"workers" yaml:"workers"`
}

// StorageSection selects and configures the checkpoint store.
type StorageSection struct {
	// Backend is memory, badger, sqlite or file.
	Backend string `koanf:"backend" json:"backend" yaml:"backend"`

	// DataDir holds the files of durable backends.
	DataDir string `koanf:"data_dir" json:"data_dir" yaml:"data_dir"`

	Badger BadgerConfig `koanf:"badger" json:"badger" yaml:"badger"`
	File   FileConfig   `koanf:"file" json:"file" yaml:"file"`
}

// BadgerConfig tunes the badger backend.
type BadgerConfig struct {
	SyncWrites  bool          `koanf:"sync_writes" json:"sync_writes" yaml:"sync_writes"`
	GCInterval  time.Duration `koanf:"gc_interval" json:"gc_interval" yaml:"gc_interval"`
	GCThreshold float64       `koanf:"gc_threshold" json:"gc_threshold" yaml:"gc_threshold"`
	CacheSizeMB int           `koanf:"cache_size_mb" json:"cache_size_mb" yaml:"cache_size_mb"`
}

// FileConfig tunes the snapshot file backend.
type FileConfig struct {
	// RetentionCount is the number of snapshots kept per checkpoint id.
	RetentionCount int `koanf:"retention_count" json:"retention_count" yaml:"retention_count"`

	// WALMaxBytes folds the differential log into a snapshot once exceeded.
	WALMaxBytes int64 `koanf:"wal_max_bytes" json:"wal_max_bytes" yaml:"wal_max_bytes"`

	// SyncMode of the log: sync or batch.
	SyncMode string `koanf:"sync_mode" json:"sync_mode" yaml:"sync_mode"`

	// EncryptionKey is a master key in rxk_ form.
	EncryptionKey string `koanf:"encryption_key" json:"encryption_key" yaml:"encryption_key"`

	// Passphrase derives the master key instead of EncryptionKey.
	Passphrase string `koanf:"passphrase" json:"passphrase" yaml:"passphrase"`

	// Algorithm is aes-gcm or chacha20-poly1305; empty picks by CPU.
	Algorithm string `koanf:"algorithm" json:"algorithm" yaml:"algorithm"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP  HTTPConfig  `koanf:"http" json:"http" yaml:"http"`
	Local LocalConfig `koanf:"local" json:"local" yaml:"local"`
}

// LocalConfig configures the local admin socket. Access is controlled by
// file permissions; the admin token and allow list do not apply.
type LocalConfig struct {
	// SocketPath enables the socket when set.
	SocketPath string `koanf:"socket_path" json:"socket_path" yaml:"socket_path"`
}

// HTTPConfig configures the admin HTTP server.
type HTTPConfig struct {
	Addr        string `koanf:"addr" json:"addr" yaml:"addr"`
	TLSCertFile string `koanf:"tls_cert_file" json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file" json:"tls_key_file" yaml:"tls_key_file"`

	// ClientCAFile turns on mutual TLS; clients must present a certificate
	// signed by one of its CAs.
	ClientCAFile string `koanf:"client_ca_file" json:"client_ca_file" yaml:"client_ca_file"`

	// RateLimit is the sustained admin request rate per second; 0 disables.
	RateLimit float64 `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `koanf:"rate_burst" json:"rate_burst" yaml:"rate_burst"`

	// AdminToken, when set, is required as a bearer token on /admin/v1.
	AdminToken string `koanf:"admin_token" json:"admin_token" yaml:"admin_token"`

	// AdminTokenHash is the hex SHA-256 of the admin token, as printed by
	// "rxcheckpoint-cli token generate". It replaces AdminToken.
	AdminTokenHash string `koanf:"admin_token_hash" json:"admin_token_hash" yaml:"admin_token_hash"`

	// AdminAllowList restricts /admin/v1 to these IPs or CIDRs.
	AdminAllowList []string `koanf:"admin_allow_list" json:"admin_allow_list" yaml:"admin_allow_list"`

	ReadTimeout     time.Duration `koanf:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Format string `koanf:"format" json:"format" yaml:"format"`
}

// TelemetrySection configures metrics and tracing.
type TelemetrySection struct {
	Metrics MetricsConfig `koanf:"metrics" json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `koanf:"tracing" json:"tracing" yaml:"tracing"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `koanf:"path" json:"path" yaml:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Exporter    string  `koanf:"exporter" json:"exporter" yaml:"exporter"`
	ServiceName string  `koanf:"service_name" json:"service_name" yaml:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio" json:"sample_ratio" yaml:"sample_ratio"`
}
