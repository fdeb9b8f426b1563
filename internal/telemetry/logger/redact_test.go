package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{"encryption key by prefix", slog.String("value", "rxk_abcdefghijklmnop"), "rxk_abc...nop"},
		{"short key", slog.String("value", "rxk_abc"), "rxk_***"},
		{"admin token by prefix", slog.String("header", "rxat_0123456789abcdef"), "rxat_012...def"},
		{"passphrase key", slog.String("passphrase", "correct horse"), redacted},
		{"encryption_key field", slog.String("storage.file.encryption_key", "raw"), redacted},
		{"admin token hash", slog.String("admin_token_hash", "9f86d0"), redacted},
		{"authorization", slog.String("Authorization", "Bearer x"), redacted},
		{"item key stays", slog.String("key", "rx://subscriptions/s1"), "rx://subscriptions/s1"},
		{"category stays", slog.String("category", "subscriptions"), "subscriptions"},
		{"empty secret stays", slog.String("passphrase", ""), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := redact(tt.attr)
			assert.Equal(t, tt.attr.Key, got.Key)
			assert.Equal(t, tt.want, got.Value.String())
		})
	}
}

func TestRedact_NonString(t *testing.T) {
	got := redact(slog.Int("token_count", 3))
	assert.EqualValues(t, 3, got.Value.Int64())
}

func TestRedact_Group(t *testing.T) {
	a := slog.Group("storage",
		slog.String("backend", "file"),
		slog.String("passphrase", "hunter2"),
	)
	got := redact(a).Value.Group()
	require.Len(t, got, 2)
	assert.Equal(t, "file", got[0].Value.String())
	assert.Equal(t, redacted, got[1].Value.String())
}

func TestNew_RedactsOutput(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Format: "text", Output: &buf})
	require.NoError(t, err)
	l.Info("store opened", "backend", "file", "encryption_key", "rxk_abcdefghijklmnop")

	out := buf.String()
	assert.NotContains(t, out, "abcdefghijklmnop", "key leaked")
	assert.Contains(t, out, "rxk_abc...nop")
}
