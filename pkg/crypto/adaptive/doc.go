// Package adaptive provides the AEAD ciphers used to seal checkpoint
// snapshots and WAL bodies.
//
// Two algorithms are available:
//
//   - AES-256-GCM, chosen by New where the CPU has AES instructions
//   - ChaCha20-Poly1305, the fallback elsewhere
//
// Ciphertexts carry their random nonce as a prefix, so the same Cipher
// value can be shared by concurrent writers.
//
// Usage:
//
//	c, err := adaptive.New(key)
//	sealed, err := c.Encrypt(plaintext, aad)
//	plaintext, err := c.Decrypt(sealed, aad)
package adaptive
