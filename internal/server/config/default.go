package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr           = "127.0.0.1:7080"
	DefaultRateBurst          = 20
	DefaultReadTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 5 * time.Minute
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultStorageBackend     = "badger"
	DefaultDataDir            = "/var/lib/rxcheckpoint/data"
	DefaultCheckpointInterval = time.Minute
	DefaultCheckpointTimeout  = 5 * time.Minute
	DefaultFullEvery          = 10
	DefaultRetentionCount     = 2
	DefaultBadgerGCInterval   = 10 * time.Minute
	DefaultBadgerGCThreshold  = 0.5
	DefaultBadgerCacheSizeMB  = 64
	DefaultMetricsPath        = "/metrics"
	DefaultTracingExporter    = "stdout"
	DefaultTracingServiceName = "rxcheckpoint-server"
	DefaultTracingSampleRatio = 1.0
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Engine: EngineSection{
			CheckpointParallelism: 1,
			CheckpointInterval:    DefaultCheckpointInterval,
			CheckpointTimeout:     DefaultCheckpointTimeout,
			FullEvery:             DefaultFullEvery,
			RecoverOnStart:        true,
			FinalCheckpoint:       true,
			Workers:               1,
		},
		Storage: StorageSection{
			Backend: DefaultStorageBackend,
			DataDir: DefaultDataDir,
			Badger: BadgerConfig{
				SyncWrites:  true,
				GCInterval:  DefaultBadgerGCInterval,
				GCThreshold: DefaultBadgerGCThreshold,
				CacheSizeMB: DefaultBadgerCacheSizeMB,
			},
			File: FileConfig{
				RetentionCount: DefaultRetentionCount,
				SyncMode:       "sync",
			},
		},
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:            DefaultHTTPAddr,
				RateBurst:       DefaultRateBurst,
				ReadTimeout:     DefaultReadTimeout,
				WriteTimeout:    DefaultWriteTimeout,
				ShutdownTimeout: DefaultShutdownTimeout,
			},
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Telemetry: TelemetrySection{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    DefaultMetricsPath,
			},
			Tracing: TracingConfig{
				Exporter:    DefaultTracingExporter,
				ServiceName: DefaultTracingServiceName,
				SampleRatio: DefaultTracingSampleRatio,
			},
		},
	}
}
