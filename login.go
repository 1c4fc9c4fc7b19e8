package identity

import (
	"context"
	"errors"
	"fmt"
)

// Login runs the password authentication state machine. Unknown emails,
// missing hashes, and wrong passwords all collapse to
// ErrInvalidCredentials; lockout and inactive states are reported
// distinctly because the caller may surface them.
func (s *Service) Login(ctx context.Context, email, plainPassword string) (result *LoginResult, err error) {
	email = normalizeEmail(email)
	defer func() { s.emitAudit(ctx, "login", "", email, err) }()

	if rlErr := s.checkRate(ctx, "login:"+email, s.config.RateLimit.Login); rlErr != nil {
		return nil, rlErr
	}

	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := s.now()
	if account.Locked(now) {
		return nil, &LockedError{Until: *account.LockUntil}
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}

	ok := false
	if account.PasswordHash != "" {
		ok, err = s.hasher.Verify(plainPassword, account.PasswordHash)
		if err != nil {
			return nil, fmt.Errorf("verify password: %w", err)
		}
	}
	if !ok {
		lockUntil, recErr := s.store.RecordFailedLogin(ctx, account.ID, s.config.Lockout.MaxAttempts, s.config.Lockout.LockDuration)
		if recErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, recErr)
		}
		if lockUntil != nil {
			return nil, &LockedError{Until: *lockUntil}
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.store.RecordSuccessfulLogin(ctx, account.ID, now); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if account.MFAEnabled {
		return &LoginResult{MFARequired: true, AccountID: account.ID}, nil
	}

	pair, err := s.issueTokens(account)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Tokens: pair, AccountID: account.ID}, nil
}

// CompleteMFALogin finishes a login that stopped at the second factor.
// The code may be a current TOTP code or an unspent backup code.
func (s *Service) CompleteMFALogin(ctx context.Context, accountID, code string) (pair TokenPair, err error) {
	defer func() { s.emitAudit(ctx, "mfa_login", accountID, "", err) }()

	if rlErr := s.checkRate(ctx, "mfa:"+accountID, s.config.RateLimit.MFAVerify); rlErr != nil {
		return TokenPair{}, rlErr
	}

	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !account.Active {
		return TokenPair{}, ErrAccountInactive
	}

	ok, err := s.verifyMFACode(ctx, account, code)
	if err != nil {
		return TokenPair{}, err
	}
	if !ok {
		return TokenPair{}, ErrMFAInvalidCode
	}

	return s.issueTokens(account)
}
