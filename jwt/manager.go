package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature scheme.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Token use markers carried in the "typ" claim. Parsing enforces them so
// a refresh token can never pass as an access token or vice versa.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// Config holds signing material and token lifetimes. For ed25519 the
// private key may be a raw 64-byte key or PEM; HS256 uses PrivateKey as
// the shared secret and ignores PublicKey.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Identity is the account snapshot baked into a token at issue time.
type Identity struct {
	AccountID  string
	Email      string
	Role       string
	MFAEnabled bool
}

// Claims is the payload of both token kinds. The account ID rides in the
// registered Subject claim.
type Claims struct {
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	MFAEnabled bool   `json:"mfa_enabled,omitempty"`
	TokenUse   string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager issues and parses signed tokens. Immutable after construction
// and safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg, now: time.Now}, nil
}

// CreateAccess issues a short-lived access token for the identity.
func (j *Manager) CreateAccess(id Identity) (string, error) {
	return j.create(id, UseAccess, j.config.AccessTTL)
}

// CreateRefresh issues a long-lived refresh token. It carries only the
// subject and use marker; claims are rebuilt from the account on refresh.
func (j *Manager) CreateRefresh(accountID string) (string, error) {
	return j.create(Identity{AccountID: accountID}, UseRefresh, j.config.RefreshTTL)
}

func (j *Manager) create(id Identity, use string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := Claims{
		Email:      id.Email,
		Role:       id.Role,
		MFAEnabled: id.MFAEnabled,
		TokenUse:   use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.AccountID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(j.method(), claims)
	signKey, err := j.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

// ParseAccess validates an access token and returns its claims.
func (j *Manager) ParseAccess(tokenStr string) (*Claims, error) {
	return j.parse(tokenStr, UseAccess)
}

// ParseRefresh validates a refresh token and returns its claims.
func (j *Manager) ParseRefresh(tokenStr string) (*Claims, error) {
	return j.parse(tokenStr, UseRefresh)
}

func (j *Manager) parse(tokenStr, wantUse string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return j.verifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.TokenUse != wantUse {
		return nil, fmt.Errorf("token use %q where %q is required: %w", claims.TokenUse, wantUse, jwt.ErrTokenInvalidClaims)
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}

func (j *Manager) method() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) signKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) verifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
