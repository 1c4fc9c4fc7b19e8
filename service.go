package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/radarhq/identity/internal/audit"
	"github.com/radarhq/identity/jwt"
	"github.com/radarhq/identity/oauth"
	"github.com/radarhq/identity/password"
	"github.com/radarhq/identity/rate"
	"github.com/radarhq/identity/secret"
	"github.com/radarhq/identity/totp"
)

// Service is the identity engine: login, registration, MFA, password
// reset, OAuth federation, and token issue/refresh over one credential
// store. Construct it with New().…Build(); it is immutable afterwards
// and safe for concurrent use.
type Service struct {
	config    Config
	store     CredentialStore
	cipher    *secret.Cipher
	hasher    *password.Hasher
	tokens    *jwt.Manager
	totp      *totp.Manager
	limiter   *rate.Limiter
	audit     *audit.Dispatcher
	logger    *slog.Logger
	providers map[string]oauth.Provider

	// now is swapped in tests to pin clocks.
	now func() time.Time
}

// Close flushes the audit dispatcher. The service is unusable after.
func (s *Service) Close() {
	s.audit.Close()
}

// checkRate consults one policy; disabled limiting always passes. Backend
// failures deny closed: a down Redis must not void lockout protection.
func (s *Service) checkRate(ctx context.Context, key string, policy rate.Policy) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.Allow(ctx, key, policy)
	if err != nil {
		s.logger.ErrorContext(ctx, "rate check failed", "key", key, "error", err)
		return &RateLimitError{Key: key, ResetAt: s.now().Add(policy.Window)}
	}
	if !res.Allowed {
		return &RateLimitError{Key: key, ResetAt: res.ResetAt}
	}
	return nil
}

func (s *Service) emitAudit(ctx context.Context, action, accountID, email string, err error) {
	event := audit.Event{
		Timestamp: s.now(),
		Action:    action,
		AccountID: accountID,
		Email:     email,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	s.audit.Emit(ctx, event)
}
