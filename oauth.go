package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/radarhq/identity/oauth"
)

// OAuthAuthorizationURL builds the consent URL for a configured
// provider.
func (s *Service) OAuthAuthorizationURL(provider, redirectURI, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", ErrUnknownProvider
	}
	return p.AuthorizationURL(redirectURI, state), nil
}

// LoginWithOAuth completes a provider callback: exchanges the code,
// links the asserted identity to an existing account by email or creates
// a password-less pre-verified one, and issues tokens. An existing
// password hash is never touched, and the provider token is stored only
// encrypted. Accounts with MFA enabled still stop at the second factor.
func (s *Service) LoginWithOAuth(ctx context.Context, provider, code, redirectURI string) (result *LoginResult, err error) {
	var email string
	defer func() { s.emitAudit(ctx, "oauth_login", "", email, err) }()

	p, ok := s.providers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}

	external, err := p.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	email = normalizeEmail(external.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	account, err := s.linkOrCreate(ctx, p.Name(), email, external)
	if err != nil {
		return nil, err
	}

	if !account.Active {
		return nil, ErrAccountInactive
	}
	if err := s.store.RecordSuccessfulLogin(ctx, account.ID, s.now()); err != nil {
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

func (s *Service) linkOrCreate(ctx context.Context, provider, email string, external *oauth.ExternalIdentity) (*Account, error) {
	encryptedToken := ""
	if external.AccessToken != "" {
		var err error
		encryptedToken, err = s.cipher.Encrypt(external.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt provider token: %w", err)
		}
	}

	account, err := s.store.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		// Provider emails are trusted as verified; linking also marks
		// the account verified. A previously linked account is left as
		// it is.
		if account.OAuthProvider == "" {
			if err := s.store.LinkOAuth(ctx, account.ID, provider, external.ProviderID, encryptedToken); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			account, err = s.store.GetAccountByID(ctx, account.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}
		return account, nil

	case errors.Is(err, ErrAccountNotFound):
		account, err := s.store.CreateAccount(ctx, NewAccount{
			Email:         email,
			FirstName:     external.GivenName,
			LastName:      external.FamilyName,
			Role:          s.config.Account.DefaultRole,
			Verified:      true,
			OAuthProvider: provider,
			OAuthID:       external.ProviderID,
			OAuthToken:    encryptedToken,
		})
		if err != nil {
			return nil, err
		}
		return account, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
