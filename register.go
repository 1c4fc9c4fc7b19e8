package identity

import (
	"context"
	"errors"
	"fmt"
)

// Register validates the input and creates an unverified, active
// account. The role defaults from configuration when left empty.
func (s *Service) Register(ctx context.Context, in RegisterInput) (account *Account, err error) {
	email := normalizeEmail(in.Email)
	defer func() { s.emitAudit(ctx, "register", "", email, err) }()

	if rlErr := s.checkRate(ctx, "register:"+email, s.config.RateLimit.Register); rlErr != nil {
		return nil, rlErr
	}

	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := s.validatePassword(in.Password); err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = s.config.Account.DefaultRole
	}
	if err := validateRole(role); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account, err = s.store.CreateAccount(ctx, NewAccount{
		Email:        email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         role,
		Verified:     false,
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SetActive soft-enables or soft-disables an account. Accounts are never
// physically deleted; a deactivated account fails login and refresh.
func (s *Service) SetActive(ctx context.Context, accountID string, active bool) (err error) {
	defer func() { s.emitAudit(ctx, "set_active", accountID, "", err) }()

	if err := s.store.SetActive(ctx, accountID, active); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
