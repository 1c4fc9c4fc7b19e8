package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config controls code generation and verification. Digits, Period, and
// Skew must agree with what was encoded into the provisioning URI or
// authenticator apps will disagree with the server.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string
}

// Manager generates seeds, builds otpauth URIs, and verifies codes.
type Manager struct {
	config Config
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("totp: issuer must not be empty")
	}
	if cfg.Digits < 6 || cfg.Digits > 8 {
		return nil, errors.New("totp: digits must be between 6 and 8")
	}
	if cfg.Period <= 0 {
		return nil, errors.New("totp: period must be positive")
	}
	if cfg.Skew < 0 {
		return nil, errors.New("totp: skew must not be negative")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if _, err := hmacFunc(cfg.Algorithm); err != nil {
		return nil, err
	}
	return &Manager{config: cfg}, nil
}

// GenerateSecret draws a fresh 160-bit seed and returns it as unpadded
// base32, the form authenticator apps accept.
func (m *Manager) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return b32.EncodeToString(raw), nil
}

// ProvisioningURI renders the otpauth:// URI that seeds an authenticator
// app for the given account label.
func (m *Manager) ProvisioningURI(secret, account string) string {
	label := url.PathEscape(m.config.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", m.config.Issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", strings.ToUpper(m.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Verify checks a submitted code against the seed at the given instant,
// accepting codes from the surrounding Skew steps to absorb clock drift.
// A malformed code is a plain rejection, not an error.
func (m *Manager) Verify(secret, code string, now time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumeric(trimmed) {
		return false, nil
	}

	raw, err := decodeSecret(secret)
	if err != nil {
		return false, err
	}

	baseCounter := now.Unix() / int64(m.config.Period)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(raw, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, nil
		}
	}

	return false, nil
}

// CodeAt computes the code for a seed at a specific instant. Exposed for
// enrollment tooling and tests; Verify is the path for authentication.
func (m *Manager) CodeAt(secret string, t time.Time) (string, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(raw, t.Unix()/int64(m.config.Period), m.config.Digits, m.config.Algorithm)
}

func decodeSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.TrimRight(secret, "="))
	raw, err := b32.DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("totp: invalid secret: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("totp: empty secret")
	}
	return raw, nil
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("totp: unsupported algorithm")
	}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
