package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testEncryptor(t *testing.T) *AESEncryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate random key: %v", err)
	}
	enc, err := NewAESEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}
	return enc
}

func TestNewAESEncryptor(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		errorMsg  string
		wantError bool
	}{
		{name: "empty key", key: "", wantError: true, errorMsg: "encryption key is empty"},
		{name: "invalid base64", key: "not-valid-base64!@#$", wantError: true, errorMsg: "base64 decode failed"},
		{name: "key too short", key: base64.StdEncoding.EncodeToString(make([]byte, 16)), wantError: true, errorMsg: "must be 32 bytes"},
		{name: "key too long", key: base64.StdEncoding.EncodeToString(make([]byte, 64)), wantError: true, errorMsg: "must be 32 bytes"},
		{name: "valid 32-byte key", key: base64.StdEncoding.EncodeToString(make([]byte, 32))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)
			if tt.wantError {
				if err == nil {
					t.Errorf("NewAESEncryptor() expected error but got nil")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("NewAESEncryptor() error = %v, want error containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("NewAESEncryptor() unexpected error = %v", err)
			}
			if enc == nil {
				t.Errorf("NewAESEncryptor() returned nil encryptor")
			}
		})
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	enc := testEncryptor(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "short string", plaintext: "hello"},
		{name: "irc oauth token", plaintext: "oauth:abcdefghij0123456789klmnopqrst"},
		{name: "long string", plaintext: strings.Repeat("a", 1000)},
		{name: "special characters", plaintext: "!@#$%^&*()_+-={}[]|\\:;\"'<>,.?/~`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt([]byte(tt.plaintext))
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if bytes.Equal(ciphertext, []byte(tt.plaintext)) {
				t.Errorf("Encrypt() returned plaintext unchanged")
			}

			decrypted, err := enc.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if string(decrypted) != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", string(decrypted), tt.plaintext)
			}
		})
	}
}

func TestEncryptNonceRandomized(t *testing.T) {
	enc := testEncryptor(t)
	plaintext := []byte("test plaintext")

	ciphertext1, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	ciphertext2, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(ciphertext1, ciphertext2) {
		t.Errorf("Encrypt() produced identical ciphertexts for same plaintext")
	}
}

func TestDecrypt_InvalidCiphertext(t *testing.T) {
	enc := testEncryptor(t)

	tests := []struct {
		name       string
		errorMsg   string
		ciphertext []byte
	}{
		{name: "empty ciphertext", ciphertext: []byte{}, errorMsg: "ciphertext is empty"},
		{name: "shorter than nonce", ciphertext: []byte{1, 2, 3}, errorMsg: "ciphertext too short"},
		{name: "corrupted ciphertext", ciphertext: make([]byte, 50), errorMsg: "authentication or integrity check failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Decrypt(tt.ciphertext)
			if err == nil {
				t.Errorf("Decrypt() expected error but got nil")
			} else if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Decrypt() error = %v, want error containing %q", err, tt.errorMsg)
			}
		})
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	enc := testEncryptor(t)

	ciphertext, err := enc.Encrypt([]byte("sensitive data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	ciphertext[len(ciphertext)/2] ^= 0x01

	if _, err := enc.Decrypt(ciphertext); err == nil {
		t.Errorf("Decrypt() should fail for tampered ciphertext")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	enc1 := testEncryptor(t)
	enc2 := testEncryptor(t)

	ciphertext, err := enc1.Encrypt([]byte("secret message"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := enc2.Decrypt(ciphertext); err == nil {
		t.Errorf("Decrypt() with wrong key should fail")
	}
}

func TestEncrypt_EmptyPlaintext(t *testing.T) {
	enc := testEncryptor(t)

	if _, err := enc.Encrypt([]byte{}); err == nil {
		t.Errorf("Encrypt() with empty plaintext should return error")
	}
}

func TestStringWrappers(t *testing.T) {
	enc := testEncryptor(t)

	t.Run("empty passthrough", func(t *testing.T) {
		if got, err := EncryptString(enc, ""); err != nil || got != "" {
			t.Errorf("EncryptString(\"\") = %q, %v, want empty and nil", got, err)
		}
		if got, err := DecryptString(enc, ""); err != nil || got != "" {
			t.Errorf("DecryptString(\"\") = %q, %v, want empty and nil", got, err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		plaintext := "oauth:refresh-token-67890"
		encrypted, err := EncryptString(enc, plaintext)
		if err != nil {
			t.Fatalf("EncryptString() error = %v", err)
		}
		if _, err := base64.StdEncoding.DecodeString(encrypted); err != nil {
			t.Errorf("EncryptString() result is not valid base64: %v", err)
		}
		decrypted, err := DecryptString(enc, encrypted)
		if err != nil {
			t.Fatalf("DecryptString() error = %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("DecryptString() = %q, want %q", decrypted, plaintext)
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		if _, err := DecryptString(enc, "not-valid-base64!@#"); err == nil {
			t.Errorf("DecryptString() with invalid base64 should return error")
		}
	})
}
