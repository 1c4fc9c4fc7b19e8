package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// MinIterations is the floor for passphrase-derived keys.
const MinIterations = 100_000

const derivedKeyLength = 32

// ErrDecryptFailed is returned for any ciphertext that cannot be
// authenticated and decrypted: tampered data, truncated payloads, or a
// value sealed under a different key. Decryption fails closed.
var ErrDecryptFailed = errors.New("decryption failed")

// Cipher seals and opens small secrets (MFA seeds, provider tokens) with
// AES-GCM under one process-wide key. Construct it once at startup and
// inject it; instances are immutable and safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a raw AES key (16, 24, or 32 bytes).
func New(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewFromPassphrase derives a 256-bit key from a passphrase with
// PBKDF2-HMAC-SHA256 and builds a Cipher from it. The salt must be
// stable across restarts or previously sealed values become unreadable.
func NewFromPassphrase(passphrase string, salt []byte, iterations int) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	if len(salt) < 8 {
		return nil, errors.New("salt must be at least 8 bytes")
	}
	if iterations < MinIterations {
		return nil, fmt.Errorf("iterations must be >= %d", MinIterations)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, iterations, derivedKeyLength, sha256.New)
	return New(key)
}

// Encrypt seals one plaintext value. The payload is nonce || ciphertext,
// base64url-encoded; a fresh nonce is drawn per call.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", errors.New("cipher is not configured")
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	payload := append(nonce, sealed...)
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// Decrypt opens a previously sealed value. Every failure mode collapses
// to ErrDecryptFailed so callers cannot distinguish tampering from a key
// mismatch.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", errors.New("cipher is not configured")
	}

	payload, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptFailed
	}

	nonceSize := c.aead.NonceSize()
	if len(payload) < nonceSize {
		return "", ErrDecryptFailed
	}

	plaintext, err := c.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
