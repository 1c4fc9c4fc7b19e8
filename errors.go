package identity

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers every bad-credential outcome: unknown
	// email, wrong password, missing password hash. The message stays
	// generic so callers cannot learn which factor failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidResetGrant  = errors.New("invalid or expired reset grant")
	ErrMFARequired        = errors.New("mfa required")
	ErrMFAInvalidCode     = errors.New("invalid mfa code")
	ErrMFANotEnabled      = errors.New("mfa not enabled")
	ErrMFAAlreadyEnabled  = errors.New("mfa already enabled")
	ErrRateLimited        = errors.New("rate limited")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrUnknownProvider    = errors.New("unknown oauth provider")
	ErrEngineNotReady     = errors.New("engine not initialized")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
)

// LockedError reports a lockout with the moment it lifts.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	remaining := time.Until(e.Until).Round(time.Minute)
	if remaining < time.Minute {
		remaining = time.Minute
	}
	return fmt.Sprintf("account locked, try again in %s", remaining)
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RateLimitError reports a denied rate check with the window reset time,
// which HTTP surfaces translate to Retry-After.
type RateLimitError struct {
	Key     string
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// ValidationError marks a user-correctable input problem on one field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
