// Package connection is the HTTP client rxcheckpoint-cli uses to reach the
// server's entity and admin API.
//
// Requests carry the admin bearer token when one is configured. Responses
// are unwrapped from the server's envelope; failures come back as
// *APIError with the server's error code.
package connection
