package logger

import (
	"log/slog"
	"strings"

	"github.com/yndnr/rxcheckpoint/pkg/token"
)

const redacted = "***REDACTED***"

// Printable secrets recognised by their prefix, whatever the attribute key.
var secretPrefixes = []string{
	"rxk_",       // snapshot encryption key
	token.Prefix, // admin bearer token
}

// Attribute keys whose string values are always redacted. Plain "key" is
// not among them: storage logs item keys.
var secretKeys = []string{
	"passphrase",
	"password",
	"secret",
	"token",
	"encryption_key",
	"authorization",
}

func redact(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		if v == "" {
			return a
		}
		for _, p := range secretPrefixes {
			if strings.HasPrefix(v, p) {
				return slog.String(a.Key, mask(v, p))
			}
		}
		k := strings.ToLower(a.Key)
		for _, s := range secretKeys {
			if strings.Contains(k, s) {
				return slog.String(a.Key, redacted)
			}
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redact(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// mask keeps the prefix and three characters at each end of the body.
func mask(v, prefix string) string {
	body := v[len(prefix):]
	if len(body) <= 6 {
		return prefix + "***"
	}
	return prefix + body[:3] + "..." + body[len(body)-3:]
}
