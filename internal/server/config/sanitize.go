package config

import (
	"slices"
	"strings"
)

// Sanitize returns a copy of the config with secrets masked, for logging.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg
	if sanitized.Storage.File.EncryptionKey != "" {
		sanitized.Storage.File.EncryptionKey = maskSecret(sanitized.Storage.File.EncryptionKey)
	}
	if sanitized.Storage.File.Passphrase != "" {
		sanitized.Storage.File.Passphrase = maskSecret(sanitized.Storage.File.Passphrase)
	}
	if sanitized.Server.HTTP.AdminToken != "" {
		sanitized.Server.HTTP.AdminToken = maskSecret(sanitized.Server.HTTP.AdminToken)
	}
	sanitized.Server.HTTP.AdminAllowList = slices.Clone(cfg.Server.HTTP.AdminAllowList)
	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-6) + s[len(s)-2:]
}
