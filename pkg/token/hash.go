package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrBadHash is returned by NormalizeHash for values that are not a hex
// SHA-256 digest.
var ErrBadHash = errors.New("token: hash must be 64 hex characters (SHA-256)")

// Hash returns the lowercase hex SHA-256 of an admin token. The server keeps
// only this value.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NormalizeHash validates a configured hash and lowercases it.
func NormalizeHash(h string) (string, error) {
	h = strings.ToLower(strings.TrimSpace(h))
	if len(h) != 2*sha256.Size {
		return "", ErrBadHash
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", ErrBadHash
	}
	return h, nil
}

// Verify reports whether token hashes to want, in constant time.
func Verify(token, want string) bool {
	got := Hash(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(want))) == 1
}
