// Package tlsroots builds the TLS configuration of the HTTP listener.
//
// A KeyPair holds the serving certificate and reloads it when the files
// change on disk, so certificates can be rotated without a restart.
// LoadPool reads client CA bundles for mutual TLS on the admin surface.
package tlsroots
