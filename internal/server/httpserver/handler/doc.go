// Package handler provides the HTTP handlers of the rxcheckpoint admin API.
//
// Entity endpoints live under /v1/entities/{kind}; entity identifiers are
// URIs and travel in the id query parameter. Checkpoint and recovery
// control lives under /admin/v1. Every JSON response uses the Response
// envelope.
package handler
