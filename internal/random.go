package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	grantTokenBytes = 48
	backupCodeBytes = 4
)

// NewGrantToken returns an opaque, high-entropy password-reset token.
// Tokens carry no internal structure; they are matched only by equality
// against the stored grant row.
func NewGrantToken() (string, error) {
	raw := make([]byte, grantTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewBackupCode returns one 8-character uppercase hex recovery code.
func NewBackupCode() (string, error) {
	raw := make([]byte, backupCodeBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(raw)), nil
}

// HashCode returns the lowercase hex SHA-256 of a backup code. Only the
// hash is ever persisted; the plaintext is shown to the user once.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
