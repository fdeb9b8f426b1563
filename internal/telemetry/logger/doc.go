// Package logger builds the log/slog loggers of rxcheckpoint.
//
// Loggers write JSON or text, share one level that can be changed at
// runtime with SetLevel, tag records with the request and trace IDs found
// in the context, and mask secrets: printable encryption keys (rxk_...),
// admin tokens and attributes named like passphrase or token.
//
// Core packages take a plain *slog.Logger and never import this package.
package logger
