// Package tracer provides OpenTelemetry tracing for rxcheckpoint.
//
// A Provider wraps an SDK tracer provider (or a no-op one when tracing is
// disabled) and hands out spans for checkpoints, recoveries and store
// commits. Exporters: "stdout" writes spans as JSON, "none" keeps spans in
// process only.
package tracer
