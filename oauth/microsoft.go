package oauth

import (
	"context"
	"errors"
	"net/url"
)

const (
	microsoftAuthorizationURL = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	microsoftTokenURL         = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	microsoftUserinfoURL      = "https://graph.microsoft.com/v1.0/me"
)

// Microsoft implements the Azure AD common-tenant OAuth 2.0 code flow,
// reading the profile from Microsoft Graph.
type Microsoft struct {
	config Config

	authorizationURL string
	tokenURL         string
	userinfoURL      string
}

func NewMicrosoft(cfg Config) (*Microsoft, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Microsoft{
		config:           cfg,
		authorizationURL: microsoftAuthorizationURL,
		tokenURL:         microsoftTokenURL,
		userinfoURL:      microsoftUserinfoURL,
	}, nil
}

func (m *Microsoft) Name() string { return "microsoft" }

func (m *Microsoft) AuthorizationURL(redirectURI, state string) string {
	v := url.Values{}
	v.Set("client_id", m.config.ClientID)
	v.Set("redirect_uri", redirectURI)
	v.Set("response_type", "code")
	v.Set("scope", "openid email profile")
	v.Set("response_mode", "query")
	if state != "" {
		v.Set("state", state)
	}
	return m.authorizationURL + "?" + v.Encode()
}

type microsoftProfile struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
}

func (m *Microsoft) ExchangeCode(ctx context.Context, code, redirectURI string) (*ExternalIdentity, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", m.config.ClientID)
	form.Set("client_secret", m.config.ClientSecret)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", "authorization_code")
	form.Set("scope", "openid email profile")

	client := m.config.httpClient()
	accessToken, err := exchangeToken(ctx, client, m.Name(), m.tokenURL, form)
	if err != nil {
		return nil, err
	}

	var profile microsoftProfile
	if err := fetchUserInfo(ctx, client, m.Name(), m.userinfoURL, accessToken, &profile); err != nil {
		return nil, err
	}

	// Graph leaves mail empty for some account types; the UPN is the
	// address in that case.
	email := profile.Mail
	if email == "" {
		email = profile.UserPrincipalName
	}
	if email == "" {
		return nil, errors.New("oauth: microsoft profile carried no email")
	}

	return &ExternalIdentity{
		Provider:    m.Name(),
		ProviderID:  profile.ID,
		Email:       email,
		GivenName:   profile.GivenName,
		FamilyName:  profile.Surname,
		AccessToken: accessToken,
	}, nil
}
