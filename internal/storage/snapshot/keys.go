package snapshot

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/rxcheckpoint/pkg/crypto/adaptive"
)

var (
	ErrKeyTooShort       = errors.New("snapshot: encryption key too short (minimum 16 bytes)")
	ErrPassphraseTooWeak = errors.New("snapshot: passphrase too weak (minimum 8 characters)")
	ErrInvalidSalt       = errors.New("snapshot: invalid salt")
	ErrInvalidKeyFormat  = errors.New("snapshot: key must be rxk_ followed by base64url")
)

const (
	MinKeyLength        = 16
	MinPassphraseLength = 8
	SaltLength          = 16

	// KeyPrefix marks the printable form of a key.
	KeyPrefix = "rxk_"

	// SaltFile is the name of the salt kept next to passphrase-encrypted
	// data.
	SaltFile = "salt"
)

// Argon2id parameters for passphrase keys.
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
)

// EncryptionConfig selects the master key for at-rest encryption. A
// Passphrase wins over Key.
type EncryptionConfig struct {
	Key        []byte
	Passphrase []byte

	// Salt for Passphrase. MasterKey generates and returns one when nil;
	// the caller must persist it.
	Salt []byte

	// Algorithm is "aes-gcm" or "chacha20-poly1305"; empty picks by CPU.
	Algorithm string
}

// Enabled reports whether c asks for encryption.
func (c EncryptionConfig) Enabled() bool {
	return len(c.Key) > 0 || len(c.Passphrase) > 0
}

// Validate checks key and passphrase strength.
func (c EncryptionConfig) Validate() error {
	switch {
	case len(c.Passphrase) > 0 && len(c.Passphrase) < MinPassphraseLength:
		return ErrPassphraseTooWeak
	case len(c.Passphrase) > 0 && c.Salt != nil && len(c.Salt) != SaltLength:
		return ErrInvalidSalt
	case len(c.Passphrase) == 0 && len(c.Key) > 0 && len(c.Key) < MinKeyLength:
		return ErrKeyTooShort
	}
	return nil
}

// MasterKey resolves the master key of cfg and the salt it was derived
// with (nil for raw keys). The key is a copy the caller should ZeroKey. A
// nil key means encryption is disabled.
func MasterKey(cfg EncryptionConfig) (key, salt []byte, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if len(cfg.Passphrase) == 0 {
		if len(cfg.Key) == 0 {
			return nil, nil, nil
		}
		return append([]byte(nil), cfg.Key...), nil, nil
	}
	salt = cfg.Salt
	if salt == nil {
		if salt, err = randomBytes(SaltLength); err != nil {
			return nil, nil, fmt.Errorf("snapshot: generate salt: %w", err)
		}
	}
	return argon2.IDKey(cfg.Passphrase, salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen), salt, nil
}

// NewCipher returns an AEAD for key. algorithm is parsed by
// adaptive.ParseType.
func NewCipher(key []byte, algorithm string) (adaptive.Cipher, error) {
	typ, err := adaptive.ParseType(algorithm)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return adaptive.NewWithType(key, typ)
}

// DeriveSubkey derives a key bound to info from master with HKDF-SHA256.
func DeriveSubkey(master []byte, info string, length int) ([]byte, error) {
	if len(master) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	key := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("snapshot: derive subkey: %w", err)
	}
	return key, nil
}

// LoadOrCreateSalt returns the salt stored in dir, writing a new one on
// first use.
func LoadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, SaltFile)
	salt, err := os.ReadFile(path)
	switch {
	case err == nil && len(salt) == SaltLength:
		return salt, nil
	case err == nil:
		return nil, ErrInvalidSalt
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("snapshot: read salt: %w", err)
	}

	if salt, err = randomBytes(SaltLength); err != nil {
		return nil, fmt.Errorf("snapshot: generate salt: %w", err)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, salt, 0600); err != nil {
		return nil, fmt.Errorf("snapshot: write salt: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("snapshot: write salt: %w", err)
	}
	return salt, nil
}

// GenerateKey returns length random bytes.
func GenerateKey(length int) ([]byte, error) {
	if length < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	key, err := randomBytes(length)
	if err != nil {
		return nil, fmt.Errorf("snapshot: generate key: %w", err)
	}
	return key, nil
}

// ZeroKey overwrites key in place.
func ZeroKey(key []byte) {
	clear(key)
}

// FormatKey renders key as KeyPrefix plus unpadded base64url.
func FormatKey(key []byte) string {
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(key)
}

// ParseKey is the inverse of FormatKey.
func ParseKey(s string) ([]byte, error) {
	enc, ok := strings.CutPrefix(s, KeyPrefix)
	if !ok || enc == "" {
		return nil, ErrInvalidKeyFormat
	}
	key, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	if len(key) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	return key, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
