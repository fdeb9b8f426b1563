// Package token generates and verifies admin API bearer tokens.
//
// Token format:
//
//   - Prefix: rxat_
//   - Body: Base64 RawURL encoded random bytes from crypto/rand
//
// Servers keep only the SHA-256 hash of the configured token and compare
// in constant time.
package token
