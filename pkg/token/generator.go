package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	// Prefix marks an admin token.
	Prefix = "rxat_"

	// DefaultLength is the default token length in random bytes.
	DefaultLength = 32

	// MinLength is the shortest accepted random part.
	MinLength = 16
)

// ErrMalformed is returned by Parse for strings that are not admin tokens.
var ErrMalformed = errors.New("token: malformed admin token")

// Generate generates a cryptographically secure admin token.
func Generate() (string, error) {
	return GenerateWithLength(DefaultLength)
}

// GenerateWithLength generates a token with length random bytes.
func GenerateWithLength(length int) (string, error) {
	if length < MinLength {
		return "", errors.New("token: length below minimum")
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Parse checks the token format and returns its random part.
func Parse(s string) ([]byte, error) {
	body, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return nil, ErrMalformed
	}
	b, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(b) < MinLength {
		return nil, ErrMalformed
	}
	return b, nil
}
