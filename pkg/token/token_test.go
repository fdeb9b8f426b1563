package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	tok, err := Generate()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, Prefix), "Generate() = %q, want prefix %q", tok, Prefix)

	raw, err := Parse(tok)
	require.NoError(t, err)
	assert.Len(t, raw, DefaultLength)
}

func TestGenerate_Uniqueness(t *testing.T) {
	tokens := make(map[string]bool)
	for range 100 {
		tok, err := Generate()
		require.NoError(t, err)
		assert.False(t, tokens[tok], "duplicate token %s", tok)
		tokens[tok] = true
	}
}

func TestGenerateWithLength(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{"below minimum", 8, true},
		{"minimum", MinLength, false},
		{"64 bytes", 64, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := GenerateWithLength(tt.length)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			raw, err := Parse(tok)
			require.NoError(t, err)
			assert.Len(t, raw, tt.length)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, s := range []string{"", "rxat_", "tmtk_abcdefghijklmnopqrstuv", "rxat_!!!!", "rxat_c2hvcnQ"} {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrMalformed, "Parse(%q)", s)
	}
}

func TestHash(t *testing.T) {
	h := Hash("my-secret-token")
	assert.Len(t, h, 64)
	assert.Equal(t, h, Hash("my-secret-token"), "Hash() is not deterministic")
	assert.NotEqual(t, h, Hash("other-token"))
}

func TestVerify(t *testing.T) {
	tok := "my-secret-token"
	hash := Hash(tok)

	assert.True(t, Verify(tok, hash))
	assert.False(t, Verify("wrong-token", hash))
	assert.False(t, Verify(tok, "wrong-hash"))
	assert.False(t, Verify("", hash))
	assert.True(t, Verify(tok, strings.ToUpper(hash)), "uppercase hash")
}

func TestNormalizeHash(t *testing.T) {
	h := Hash("rxat_example")
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{h, h, false},
		{" " + strings.ToUpper(h) + "\n", h, false},
		{"abc", "", true},
		{strings.Repeat("z", 64), "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeHash(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrBadHash, "NormalizeHash(%q)", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func BenchmarkVerify(b *testing.B) {
	hash := Hash("benchmark-token")
	for i := 0; i < b.N; i++ {
		Verify("benchmark-token", hash)
	}
}
