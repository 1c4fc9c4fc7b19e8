package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBodyBytes = 4 << 10

// ExternalIdentity is what a provider asserts about the user after a
// successful code exchange.
type ExternalIdentity struct {
	Provider    string
	ProviderID  string
	Email       string
	GivenName   string
	FamilyName  string
	AccessToken string
}

// ExchangeError reports a non-2xx response from a provider endpoint,
// carrying the raw body for diagnosis.
type ExchangeError struct {
	Provider   string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("oauth: %s %s returned %d: %s", e.Provider, e.Endpoint, e.StatusCode, e.Body)
}

// Provider is one upstream identity provider.
type Provider interface {
	Name() string

	// AuthorizationURL builds the URL the browser is sent to for consent.
	AuthorizationURL(redirectURI, state string) string

	// ExchangeCode trades an authorization code for the user's identity.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*ExternalIdentity, error)
}

// Config holds the client credentials issued by a provider.
type Config struct {
	ClientID     string
	ClientSecret string

	// HTTPClient overrides the default client; mainly for tests.
	HTTPClient *http.Client
}

func (c Config) validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("oauth: client id and secret are required")
	}
	return nil
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// exchangeToken POSTs the authorization-code grant and returns the
// bearer token for the userinfo call.
func exchangeToken(ctx context.Context, client *http.Client, provider, tokenURL string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth: %s token exchange: %w", provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return "", fmt.Errorf("oauth: %s token exchange read: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ExchangeError{Provider: provider, Endpoint: "token", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("oauth: %s token decode: %w", provider, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("oauth: %s token response carried no access token", provider)
	}
	return token.AccessToken, nil
}

// fetchUserInfo GETs the provider's userinfo endpoint and decodes the
// response into out.
func fetchUserInfo(ctx context.Context, client *http.Client, provider, userinfoURL, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("oauth: %s userinfo: %w", provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return fmt.Errorf("oauth: %s userinfo read: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ExchangeError{Provider: provider, Endpoint: "userinfo", StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("oauth: %s userinfo decode: %w", provider, err)
	}
	return nil
}
