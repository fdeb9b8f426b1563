package config

import "time"

// DefaultServer is the server used when neither a profile nor a flag
// names one.
const DefaultServer = "http://127.0.0.1:7080"

// CLIConfig is the configuration for rxcheckpoint-cli.
type CLIConfig struct {
	DefaultOutput  string             `json:"default_output" yaml:"default_output"` // table, json, yaml
	CurrentProfile string             `json:"current_profile,omitempty" yaml:"current_profile,omitempty"`
	Profiles       map[string]Profile `json:"profiles" yaml:"profiles"`
	Store          StoreConfig        `json:"store" yaml:"store"`
}

// Profile stores how to reach one server.
type Profile struct {
	Server string `json:"server" yaml:"server"`

	// Token is the admin bearer token.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	// CAFile verifies the server certificate instead of the system roots.
	CAFile string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`

	// CertFile and KeyFile are presented to servers that require mutual TLS.
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// StoreConfig gives defaults for the offline store commands.
type StoreConfig struct {
	Backend      string `json:"backend,omitempty" yaml:"backend,omitempty"`
	DataDir      string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty" yaml:"checkpoint_id,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		DefaultOutput: "table",
		Profiles:      make(map[string]Profile),
	}
}
