// Package config holds the rxcheckpoint-cli settings (~/.rxcheckpoint/cli.yaml).
//
// Profiles name the servers the CLI talks to; the store section gives
// defaults for offline commands that open a checkpoint store directly.
package config
