// Package main provides the entry point for rxcheckpoint-server.
//
// The server hosts one engine and keeps its state in a checkpoint store:
//
//   - recovers the committed checkpoint at startup
//   - takes periodic full and differential checkpoints
//   - serves the entity and admin HTTP API, health probes and /metrics
//   - takes a final checkpoint on SIGINT/SIGTERM before unloading
//
// Usage:
//
//	rxcheckpoint-server [flags]
//	rxcheckpoint-server -config /etc/rxcheckpoint/server.yaml
//	rxcheckpoint-server -config server.yaml -print-config
//
// Every key can be overridden from the environment, for example
// RXCKPT_STORAGE__BACKEND=sqlite or RXCKPT_ENGINE__FULL_EVERY=5.
package main
