package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

var (
	ErrKeySize            = errors.New("adaptive: invalid key size")
	ErrUnknownCipher      = errors.New("adaptive: unknown cipher type")
	ErrCiphertextTooShort = errors.New("adaptive: ciphertext too short")
)

// Cipher provides authenticated encryption.
type Cipher interface {
	Type() CipherType

	// Encrypt seals plaintext and binds it to additionalData. The result
	// starts with the nonce.
	Encrypt(plaintext, additionalData []byte) ([]byte, error)

	// Decrypt opens a value produced by Encrypt with the same
	// additionalData.
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)

	NonceSize() int
	Overhead() int
}

// ParseType maps a configuration string to a CipherType. The empty string
// selects the hardware preferred algorithm.
func ParseType(s string) (CipherType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return preferredType(), nil
	case "aes-gcm", "aes-256-gcm", "aesgcm":
		return CipherAESGCM, nil
	case "chacha20-poly1305", "chacha20", "chacha":
		return CipherChaCha20, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCipher, s)
	}
}

// New creates a cipher with the algorithm best suited to this CPU.
func New(key []byte) (Cipher, error) {
	return NewWithType(key, preferredType())
}

// NewWithType creates a cipher of the given type.
func NewWithType(key []byte, cipherType CipherType) (Cipher, error) {
	switch cipherType {
	case CipherAESGCM:
		return NewAESGCM(key)
	case CipherChaCha20:
		return NewChaCha20(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCipher, cipherType)
	}
}

// NewAESGCM creates an AES-GCM cipher. key must be 16, 24 or 32 bytes.
func NewAESGCM(key []byte) (Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: aes-gcm needs 16, 24 or 32 bytes, got %d", ErrKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	a, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aeadCipher{typ: CipherAESGCM, aead: a}, nil
}

// NewChaCha20 creates a ChaCha20-Poly1305 cipher. key must be 32 bytes.
func NewChaCha20(key []byte) (Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: chacha20-poly1305 needs %d bytes, got %d", ErrKeySize, chacha20poly1305.KeySize, len(key))
	}
	a, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &aeadCipher{typ: CipherChaCha20, aead: a}, nil
}

// preferredType picks AES-GCM on architectures where Go's crypto/aes is
// hardware accelerated.
func preferredType() CipherType {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return CipherAESGCM
	default:
		return CipherChaCha20
	}
}

type aeadCipher struct {
	typ  CipherType
	aead cipher.AEAD
}

func (c *aeadCipher) Type() CipherType { return c.typ }
func (c *aeadCipher) NonceSize() int   { return c.aead.NonceSize() }
func (c *aeadCipher) Overhead() int    { return c.aead.Overhead() }

func (c *aeadCipher) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	out := make([]byte, n, n+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("adaptive: read nonce: %w", err)
	}
	return c.aead.Seal(out, out[:n], plaintext, additionalData), nil
}

func (c *aeadCipher) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(ciphertext) < n+c.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	return c.aead.Open(nil, ciphertext[:n], ciphertext[n:], additionalData)
}
