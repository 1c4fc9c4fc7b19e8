package identity

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radarhq/identity/internal/audit"
	"github.com/radarhq/identity/jwt"
	"github.com/radarhq/identity/oauth"
	"github.com/radarhq/identity/password"
	"github.com/radarhq/identity/rate"
	"github.com/radarhq/identity/secret"
	"github.com/radarhq/identity/totp"
)

// Builder assembles a Service from its dependencies. Zero-value fields
// fall back to defaults where one exists; Build reports what is missing.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  CredentialStore
	cipher *secret.Cipher
	logger *slog.Logger

	auditSink audit.Sink
	providers map[string]oauth.Provider

	built bool
}

func New() *Builder {
	return &Builder{
		config:    DefaultConfig(),
		providers: make(map[string]oauth.Provider),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithCipher(cipher *secret.Cipher) *Builder {
	b.cipher = cipher
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

func (b *Builder) WithOAuthProvider(p oauth.Provider) *Builder {
	if p != nil {
		b.providers[p.Name()] = p
	}
	return b
}

// Build validates the configuration, wires the internal managers, and
// returns a ready Service. A builder is single-use.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.cipher == nil {
		return nil, errors.New("secret cipher required")
	}
	if cfg.RateLimit.Enabled && b.redis == nil {
		return nil, errors.New("rate limiting requires a redis client")
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: cfg.JWT.SigningMethod,
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	codes, err := totp.NewManager(totp.Config{
		Issuer:    cfg.TOTP.Issuer,
		Digits:    cfg.TOTP.Digits,
		Period:    cfg.TOTP.Period,
		Skew:      cfg.TOTP.Skew,
		Algorithm: cfg.TOTP.Algorithm,
	})
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled {
		limiter = rate.New(b.redis, cfg.RateLimit.KeyPrefix)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true
	return &Service{
		config:    cfg,
		store:     b.store,
		cipher:    b.cipher,
		hasher:    hasher,
		tokens:    tokens,
		totp:      codes,
		limiter:   limiter,
		audit:     dispatcher,
		logger:    logger,
		providers: b.providers,
		now:       time.Now,
	}, nil
}
