// Package config defines the rxcheckpoint-server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation, all problems reported at once
//   - sanitize.go: copy with secrets masked, for logging
//   - convert.go: mapping onto engine, storage and telemetry options
//
// Configuration is loaded via internal/infra/confloader from defaults, a YAML
// file and RXCKPT_ environment variables.
package config
