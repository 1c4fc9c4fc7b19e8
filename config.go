package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/radarhq/identity/jwt"
	"github.com/radarhq/identity/rate"
)

// Config is the engine's full policy surface. Start from DefaultConfig
// and override; Build validates the result.
type Config struct {
	JWT           JWTConfig
	Password      PasswordConfig
	Lockout       LockoutConfig
	TOTP          TOTPConfig
	PasswordReset PasswordResetConfig
	RateLimit     RateLimitConfig
	Account       AccountConfig
	Audit         AuditConfig
}

// JWTConfig carries token lifetimes and signing material.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod jwt.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// PasswordConfig holds argon2id cost parameters and the strength policy
// applied at registration and password change.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength int
	DenyList  []string
}

// LockoutConfig: MaxAttempts consecutive failures lock the account for
// LockDuration; the counter resets as part of the lock transition.
type LockoutConfig struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// TOTPConfig tunes code generation and the enrollment URI.
type TOTPConfig struct {
	Issuer      string
	Digits      int
	Period      int
	Skew        int
	Algorithm   string
	BackupCodes int
}

// PasswordResetConfig bounds how long a reset grant stays redeemable.
type PasswordResetConfig struct {
	GrantTTL time.Duration
}

// RateLimitConfig holds one policy per guarded operation. Disabled means
// every check passes without touching Redis.
type RateLimitConfig struct {
	Enabled       bool
	KeyPrefix     string
	Login         rate.Policy
	Register      rate.Policy
	MFAVerify     rate.Policy
	PasswordReset rate.Policy
}

// AccountConfig holds account-creation defaults.
type AccountConfig struct {
	DefaultRole Role
}

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig mirrors the production defaults: 1h/30d tokens, five
// failed attempts lock for fifteen minutes, six-digit TOTP at 30s with
// one step of skew, ten backup codes, one-hour reset grants.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: jwt.MethodEd25519,
			Issuer:        "radar-identity",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   12,
			DenyList:    []string{"password", "123456", "qwerty", "abc123"},
		},
		Lockout: LockoutConfig{
			MaxAttempts:  5,
			LockDuration: 15 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:      "Radar",
			Digits:      6,
			Period:      30,
			Skew:        1,
			Algorithm:   "SHA1",
			BackupCodes: 10,
		},
		PasswordReset: PasswordResetConfig{
			GrantTTL: time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			KeyPrefix:     "identity",
			Login:         rate.Policy{Limit: 5, Window: time.Minute, Algorithm: rate.FixedWindow},
			Register:      rate.Policy{Limit: 3, Window: time.Hour, Algorithm: rate.FixedWindow},
			MFAVerify:     rate.Policy{Limit: 10, Window: time.Minute, Algorithm: rate.FixedWindow},
			PasswordReset: rate.Policy{Limit: 3, Window: time.Hour, Algorithm: rate.TokenBucket},
		},
		Account: AccountConfig{
			DefaultRole: RoleCEO,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate rejects configurations that would weaken the engine's
// guarantees. Signing material is validated separately at Build.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("config: refresh TTL must not be shorter than access TTL")
	}
	if c.Password.MinLength < 8 {
		return errors.New("config: password minimum length below 8")
	}
	if c.Lockout.MaxAttempts < 1 {
		return errors.New("config: lockout max attempts must be at least 1")
	}
	if c.Lockout.LockDuration <= 0 {
		return errors.New("config: lock duration must be positive")
	}
	if c.TOTP.Issuer == "" {
		return errors.New("config: totp issuer required")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("config: totp digits must be between 6 and 8")
	}
	if c.TOTP.Period <= 0 || c.TOTP.Skew < 0 {
		return errors.New("config: invalid totp period or skew")
	}
	if c.TOTP.BackupCodes < 1 {
		return errors.New("config: at least one backup code required")
	}
	if c.PasswordReset.GrantTTL <= 0 {
		return errors.New("config: reset grant TTL must be positive")
	}
	if !c.Account.DefaultRole.Valid() {
		return fmt.Errorf("config: invalid default role %q", c.Account.DefaultRole)
	}
	if c.RateLimit.Enabled {
		for name, p := range map[string]rate.Policy{
			"login":          c.RateLimit.Login,
			"register":       c.RateLimit.Register,
			"mfa verify":     c.RateLimit.MFAVerify,
			"password reset": c.RateLimit.PasswordReset,
		} {
			if p.Limit <= 0 || p.Window <= 0 {
				return fmt.Errorf("config: %s rate policy must have positive limit and window", name)
			}
		}
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		return errors.New("config: audit buffer size must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = append([]byte(nil), cfg.JWT.PrivateKey...)
	out.JWT.PublicKey = append([]byte(nil), cfg.JWT.PublicKey...)
	out.Password.DenyList = append([]string(nil), cfg.Password.DenyList...)
	return out
}
