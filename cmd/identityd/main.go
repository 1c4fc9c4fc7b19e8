// Command identityd serves the identity engine over HTTP, backed by
// Postgres for credentials and Redis for rate limiting.
package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/radarhq/identity"
	"github.com/radarhq/identity/httpapi"
	"github.com/radarhq/identity/internal/audit"
	"github.com/radarhq/identity/jwt"
	"github.com/radarhq/identity/oauth"
	"github.com/radarhq/identity/pgstore"
	"github.com/radarhq/identity/secret"
)

type envConfig struct {
	Addr        string        `env:"IDENTITY_ADDR" envDefault:":8080"`
	DatabaseURL string        `env:"DATABASE_URL,required"`
	RedisAddr   string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int           `env:"REDIS_DB" envDefault:"0"`
	Migrate     bool          `env:"IDENTITY_MIGRATE" envDefault:"true"`
	ShutdownTTL time.Duration `env:"IDENTITY_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	JWTSecret     string `env:"IDENTITY_JWT_SECRET"`
	JWTPrivateKey string `env:"IDENTITY_JWT_PRIVATE_KEY"`
	JWTPublicKey  string `env:"IDENTITY_JWT_PUBLIC_KEY"`
	JWTIssuer     string `env:"IDENTITY_JWT_ISSUER" envDefault:"identity"`

	EncryptionPassphrase string `env:"IDENTITY_ENCRYPTION_PASSPHRASE,required"`
	EncryptionSalt       string `env:"IDENTITY_ENCRYPTION_SALT,required"`

	GoogleClientID        string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string `env:"GOOGLE_CLIENT_SECRET"`
	MicrosoftClientID     string `env:"MICROSOFT_CLIENT_ID"`
	MicrosoftClientSecret string `env:"MICROSOFT_CLIENT_SECRET"`

	SentryDSN string `env:"SENTRY_DSN"`
	LogLevel  string `env:"IDENTITY_LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "identityd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine in containerized deployments.
	_ = godotenv.Load()

	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Migrate {
		if err := migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	cipher, err := secret.NewFromPassphrase(
		cfg.EncryptionPassphrase,
		[]byte(cfg.EncryptionSalt),
		secret.MinIterations,
	)
	if err != nil {
		return fmt.Errorf("build cipher: %w", err)
	}

	engineCfg, err := buildEngineConfig(cfg)
	if err != nil {
		return err
	}

	builder := identity.New().
		WithConfig(engineCfg).
		WithStore(pgstore.New(pool)).
		WithRedis(rdb).
		WithCipher(cipher).
		WithLogger(logger).
		WithAuditSink(audit.NewJSONWriterSink(os.Stdout))

	if cfg.GoogleClientID != "" {
		google, err := oauth.NewGoogle(oauth.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		})
		if err != nil {
			return fmt.Errorf("configure google oauth: %w", err)
		}
		builder.WithOAuthProvider(google)
	}
	if cfg.MicrosoftClientID != "" {
		microsoft, err := oauth.NewMicrosoft(oauth.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
		})
		if err != nil {
			return fmt.Errorf("configure microsoft oauth: %w", err)
		}
		builder.WithOAuthProvider(microsoft)
	}

	svc, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build identity service: %w", err)
	}
	defer svc.Close()

	handler := httpapi.NewHandler(svc, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTTL)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// buildEngineConfig maps environment keys onto the engine defaults.
// Either an ed25519 keypair or an HMAC secret selects the signing
// method; supplying both is a configuration error.
func buildEngineConfig(cfg envConfig) (identity.Config, error) {
	engineCfg := identity.DefaultConfig()
	engineCfg.JWT.Issuer = cfg.JWTIssuer

	switch {
	case cfg.JWTPrivateKey != "" && cfg.JWTSecret != "":
		return identity.Config{}, errors.New("set either IDENTITY_JWT_PRIVATE_KEY or IDENTITY_JWT_SECRET, not both")
	case cfg.JWTPrivateKey != "":
		priv, err := base64.StdEncoding.DecodeString(cfg.JWTPrivateKey)
		if err != nil {
			return identity.Config{}, fmt.Errorf("decode IDENTITY_JWT_PRIVATE_KEY: %w", err)
		}
		pub, err := base64.StdEncoding.DecodeString(cfg.JWTPublicKey)
		if err != nil {
			return identity.Config{}, fmt.Errorf("decode IDENTITY_JWT_PUBLIC_KEY: %w", err)
		}
		engineCfg.JWT.SigningMethod = jwt.MethodEd25519
		engineCfg.JWT.PrivateKey = priv
		engineCfg.JWT.PublicKey = pub
	case cfg.JWTSecret != "":
		engineCfg.JWT.SigningMethod = jwt.MethodHS256
		engineCfg.JWT.PrivateKey = []byte(cfg.JWTSecret)
	default:
		return identity.Config{}, errors.New("JWT signing material required: IDENTITY_JWT_PRIVATE_KEY/PUBLIC_KEY or IDENTITY_JWT_SECRET")
	}
	return engineCfg, nil
}

func migrate(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return pgstore.Migrate(db)
}
