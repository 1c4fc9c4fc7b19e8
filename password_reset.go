package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/radarhq/identity/internal"
)

// RequestPasswordReset starts a reset flow. The return is identical for
// known and unknown emails so the endpoint leaks no account existence;
// the token is non-empty only when a grant was actually created, and the
// caller delivers it out of band. A new grant voids all prior unused
// grants for the account.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (token string, err error) {
	email = normalizeEmail(email)
	defer func() { s.emitAudit(ctx, "password_reset_request", "", email, err) }()

	if rlErr := s.checkRate(ctx, "reset:"+email, s.config.RateLimit.PasswordReset); rlErr != nil {
		return "", rlErr
	}

	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	token, err = internal.NewGrantToken()
	if err != nil {
		return "", fmt.Errorf("generate grant token: %w", err)
	}
	expiresAt := s.now().Add(s.config.PasswordReset.GrantTTL)
	if err := s.store.CreateResetGrant(ctx, account.ID, token, expiresAt); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// ConfirmPasswordReset redeems a grant and sets the new password. A
// missing, spent, or expired grant fails with ErrInvalidResetGrant; the
// redemption and password write happen in one atomic unit in the store.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (err error) {
	var accountID string
	defer func() { s.emitAudit(ctx, "password_reset_confirm", accountID, "", err) }()

	if err := s.validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	accountID, err = s.store.ResetPasswordByGrant(ctx, token, hash, s.now())
	if err != nil {
		if errors.Is(err, ErrInvalidResetGrant) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ChangePassword rotates the password for an authenticated account after
// re-verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) (err error) {
	defer func() { s.emitAudit(ctx, "password_change", accountID, "", err) }()

	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if account.PasswordHash == "" {
		return ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := s.validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, account.ID, hash, s.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
