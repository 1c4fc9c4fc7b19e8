package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/radarhq/identity/jwt"
)

func (s *Service) issueTokens(account *Account) (TokenPair, error) {
	access, err := s.tokens.CreateAccess(jwt.Identity{
		AccountID:  account.ID,
		Email:      account.Email,
		Role:       string(account.Role),
		MFAEnabled: account.MFAEnabled,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.CreateRefresh(account.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh mints a new access token from a refresh token. The account is
// re-read so the claims reflect current role and MFA state, and a
// deactivated or deleted account fails even with a structurally valid
// token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (accessToken string, err error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return "", ErrTokenInvalid
	}

	account, err := s.store.GetAccountByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", ErrTokenInvalid
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !account.Active {
		return "", ErrAccountInactive
	}

	access, err := s.tokens.CreateAccess(jwt.Identity{
		AccountID:  account.ID,
		Email:      account.Email,
		Role:       string(account.Role),
		MFAEnabled: account.MFAEnabled,
	})
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return access, nil
}

// ParseAccess validates an access token and returns its claims. HTTP
// middleware uses this to build the request principal.
func (s *Service) ParseAccess(tokenStr string) (*jwt.Claims, error) {
	claims, err := s.tokens.ParseAccess(tokenStr)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
