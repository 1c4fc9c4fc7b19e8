package secret

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}
	c, err := New(key)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	cases := []string{
		"",
		"JBSWY3DPEHPK3PXP",
		"ya29.a0AfH6SMC-long-provider-token",
		strings.Repeat("x", 4096),
		"unicode: тест 秘密 🔒",
	}
	for _, plain := range cases {
		sealed, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", plain, err)
		}
		if sealed == plain && plain != "" {
			t.Fatal("ciphertext equals plaintext")
		}
		opened, err := c.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if opened != plain {
			t.Fatalf("round trip mismatch: got %q want %q", opened, plain)
		}
	}
}

func TestEncryptUsesFreshNonces(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if a == b {
		t.Fatal("two seals of the same plaintext are identical")
	}
}

func TestDecryptTamperedCiphertextFailsClosed(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.Encrypt("mfa-seed")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	tampered := []byte(sealed)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := c.Decrypt(string(tampered)); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}

	if _, err := c.Decrypt("not base64 @@@"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed for invalid encoding, got %v", err)
	}

	if _, err := c.Decrypt("AAAA"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed for short payload, got %v", err)
	}
}

func TestDecryptForeignKeyFails(t *testing.T) {
	a := newTestCipher(t)
	b := newTestCipher(t)

	sealed, err := a.Encrypt("mfa-seed")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := b.Decrypt(sealed); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed under foreign key, got %v", err)
	}
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	if _, err := New([]byte("short")); err == nil {
		t.Fatal("expected error for invalid AES key length")
	}
}

func TestNewFromPassphraseIsDeterministic(t *testing.T) {
	salt := []byte("radar_salt_v1")

	a, err := NewFromPassphrase("correct horse battery staple", salt, MinIterations)
	if err != nil {
		t.Fatalf("NewFromPassphrase failed: %v", err)
	}
	b, err := NewFromPassphrase("correct horse battery staple", salt, MinIterations)
	if err != nil {
		t.Fatalf("NewFromPassphrase failed: %v", err)
	}

	sealed, err := a.Encrypt("shared secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	opened, err := b.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt under re-derived key failed: %v", err)
	}
	if opened != "shared secret" {
		t.Fatalf("unexpected plaintext %q", opened)
	}

	other, err := NewFromPassphrase("a different passphrase", salt, MinIterations)
	if err != nil {
		t.Fatalf("NewFromPassphrase failed: %v", err)
	}
	if _, err := other.Decrypt(sealed); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed under different passphrase, got %v", err)
	}
}

func TestNewFromPassphraseValidation(t *testing.T) {
	salt := bytes.Repeat([]byte{0x1}, 16)

	if _, err := NewFromPassphrase("", salt, MinIterations); err == nil {
		t.Fatal("expected error for empty passphrase")
	}
	if _, err := NewFromPassphrase("pass", []byte("tiny"), MinIterations); err == nil {
		t.Fatal("expected error for short salt")
	}
	if _, err := NewFromPassphrase("pass", salt, 50_000); err == nil {
		t.Fatal("expected error for too few iterations")
	}
}
