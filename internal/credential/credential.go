// Package credential encrypts provider API keys before they reach the
// settings database. Keys are sealed with AES-256-GCM under a key derived from
// machine and user identifiers, so a copied database is useless elsewhere.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// EncryptedPrefix marks values as encrypted in storage.
const EncryptedPrefix = "enc:v1:"

const salt = "rewind-credential-manager-v1"

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid encrypted format")
)

// Manager seals and opens stored credentials.
type Manager struct {
	aead cipher.AEAD
}

// NewManager creates a manager keyed to this machine and user.
func NewManager() (*Manager, error) {
	return NewManagerWithKey(deriveKey())
}

// NewManagerWithKey creates a manager from an explicit 32-byte key.
func NewManagerWithKey(key []byte) (*Manager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Manager{aead: gcm}, nil
}

// Encrypt seals plaintext into a storable string. Empty input stays empty.
func (m *Manager) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := m.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored value. Values without the prefix are returned as-is
// so hand-edited plaintext rows keep working.
func (m *Manager) Decrypt(stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidFormat, err)
	}

	n := m.aead.NonceSize()
	if len(sealed) < n {
		return "", ErrInvalidFormat
	}

	plaintext, err := m.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted checks if a value is already encrypted.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

func deriveKey() []byte {
	var entropy strings.Builder

	hostname, _ := os.Hostname()
	entropy.WriteString(hostname)
	home, _ := os.UserHomeDir()
	entropy.WriteString(home)
	entropy.WriteString(runtime.GOOS)
	entropy.WriteString(runtime.GOARCH)
	entropy.WriteString(salt)

	if uid := os.Getuid(); uid != -1 {
		fmt.Fprintf(&entropy, "uid:%d", uid)
	}
	if username := os.Getenv("USER"); username != "" {
		entropy.WriteString(username)
	}

	sum := sha256.Sum256([]byte(entropy.String()))
	return sum[:]
}

// MaskSecret hides all but the first and last four characters of a secret.
func MaskSecret(secret string) string {
	r := []rune(secret)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:4]) + "..." + string(r[len(r)-4:])
}
