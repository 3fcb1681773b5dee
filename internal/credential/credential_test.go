package credential

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestManager_RoundTrip(t *testing.T) {
	manager, err := NewManager()
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	for _, key := range []string{"AIzaSyExampleGeminiKey", "gsk_" + strings.Repeat("x", 48), "ключ-🔑"} {
		enc, err := manager.Encrypt(key)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		if !IsEncrypted(enc) || strings.Contains(enc, key) {
			t.Errorf("expected sealed value, got %q", enc)
		}
		dec, err := manager.Decrypt(enc)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if dec != key {
			t.Errorf("round trip mismatch: got %q, want %q", dec, key)
		}
	}

	if enc, _ := manager.Encrypt(""); enc != "" {
		t.Errorf("empty input should stay empty, got %q", enc)
	}
}

func TestManager_NoncesDiffer(t *testing.T) {
	manager, _ := NewManager()
	a, _ := manager.Encrypt("same")
	b, _ := manager.Encrypt("same")
	if a == b {
		t.Error("same plaintext should produce different ciphertext")
	}
}

func TestManager_PlaintextPassthrough(t *testing.T) {
	manager, _ := NewManager()
	got, err := manager.Decrypt("sk-hand-edited")
	if err != nil || got != "sk-hand-edited" {
		t.Errorf("Decrypt plaintext = %q, %v", got, err)
	}
}

func TestManager_DecryptErrors(t *testing.T) {
	a, _ := NewManagerWithKey(bytes.Repeat([]byte{1}, 32))
	b, _ := NewManagerWithKey(bytes.Repeat([]byte{2}, 32))

	sealed, err := a.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"invalid base64", EncryptedPrefix + "not-valid-base64!!!", ErrInvalidFormat},
		{"too short", EncryptedPrefix + "YWJj", ErrInvalidFormat},
		{"wrong key", sealed, ErrDecryptionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Decrypt(tt.input)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decrypt error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewManagerWithKey_Length(t *testing.T) {
	if _, err := NewManagerWithKey([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"", "****"},
		{"12345678", "****"},
		{"123456789", "1234...6789"},
		{"gsk_abcdefghijklmnop", "gsk_...mnop"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.input); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
