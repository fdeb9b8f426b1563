package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".rxcheckpoint", "cli.yaml")
}

// Load reads the CLI configuration. A missing file yields Default().
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	return cfg, nil
}

// Save writes the configuration with owner-only permissions. The file is
// replaced atomically.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".cli-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Resolve picks the profile name (or the current profile when name is
// empty) and lays the non-empty fields of override on top of it.
func Resolve(cfg *CLIConfig, name string, override Profile) (Profile, error) {
	var p Profile
	if name == "" {
		name = cfg.CurrentProfile
	}
	if name != "" {
		var ok bool
		if p, ok = cfg.Profiles[name]; !ok {
			return Profile{}, fmt.Errorf("unknown profile %q", name)
		}
	}

	if override.Server != "" {
		p.Server = override.Server
	}
	if override.Token != "" {
		p.Token = override.Token
	}
	if override.CAFile != "" {
		p.CAFile = override.CAFile
	}
	if override.CertFile != "" {
		p.CertFile = override.CertFile
	}
	if override.KeyFile != "" {
		p.KeyFile = override.KeyFile
	}
	if override.Timeout > 0 {
		p.Timeout = override.Timeout
	}
	if p.Server == "" {
		p.Server = DefaultServer
	}
	return p, nil
}
