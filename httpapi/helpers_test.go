package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/radarhq/identity"
	"github.com/radarhq/identity/oauth"
	"github.com/radarhq/identity/secret"
	"github.com/radarhq/identity/totp"
)

// memStore is the same in-memory CredentialStore shape the engine's own
// suite uses, rebuilt here because the handler tests live in a separate
// package.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*identity.Account
	byEmail  map[string]string
	grants   map[string]*memGrant
}

type memGrant struct {
	accountID string
	expiresAt time.Time
	used      bool
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]*identity.Account),
		byEmail:  make(map[string]string),
		grants:   make(map[string]*memGrant),
	}
}

func (m *memStore) CreateAccount(ctx context.Context, in identity.NewAccount) (*identity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[in.Email]; exists {
		return nil, identity.ErrDuplicateEmail
	}
	now := time.Now()
	account := &identity.Account{
		ID:            uuid.NewString(),
		Email:         in.Email,
		PasswordHash:  in.PasswordHash,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Role:          in.Role,
		OAuthProvider: in.OAuthProvider,
		OAuthID:       in.OAuthID,
		OAuthToken:    in.OAuthToken,
		Active:        true,
		Verified:      in.Verified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.accounts[account.ID] = account
	m.byEmail[account.Email] = account.ID
	return clone(account), nil
}

func (m *memStore) GetAccountByEmail(ctx context.Context, email string) (*identity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, identity.ErrAccountNotFound
	}
	return clone(m.accounts[id]), nil
}

func (m *memStore) GetAccountByID(ctx context.Context, id string) (*identity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, identity.ErrAccountNotFound
	}
	return clone(account), nil
}

func (m *memStore) UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return identity.ErrAccountNotFound
	}
	account.PasswordHash = hash
	account.PasswordChangedAt = &changedAt
	return nil
}

func (m *memStore) SetActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return identity.ErrAccountNotFound
	}
	account.Active = active
	return nil
}

func (m *memStore) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockFor time.Duration) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, identity.ErrAccountNotFound
	}
	account.FailedLogins++
	if account.FailedLogins >= maxAttempts {
		until := time.Now().Add(lockFor)
		account.LockUntil = &until
		account.FailedLogins = 0
		return &until, nil
	}
	return nil, nil
}

func (m *memStore) RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return identity.ErrAccountNotFound
	}
	account.FailedLogins = 0
	account.LockUntil = nil
	account.LastLogin = &at
	return nil
}

func (m *memStore) EnableMFA(ctx context.Context, id, encryptedSecret string, backupHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return identity.ErrAccountNotFound
	}
	account.MFAEnabled = true
	account.MFASecret = encryptedSecret
	account.BackupCodes = append([]string(nil), backupHashes...)
	return nil
}

func (m *memStore) DisableMFA(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return identity.ErrAccountNotFound
	}
	account.MFAEnabled = false
	account.MFASecret = ""
	account.BackupCodes = nil
	return nil
}

func (m *memStore) ReplaceBackupCodes(ctx context.Context, id string, backupHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return identity.ErrAccountNotFound
	}
	account.BackupCodes = append([]string(nil), backupHashes...)
	return nil
}

func (m *memStore) ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return false, identity.ErrAccountNotFound
	}
	for i, stored := range account.BackupCodes {
		if stored == hash {
			account.BackupCodes = append(account.BackupCodes[:i], account.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) LinkOAuth(ctx context.Context, id, provider, externalID, encryptedToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return identity.ErrAccountNotFound
	}
	account.OAuthProvider = provider
	account.OAuthID = externalID
	account.OAuthToken = encryptedToken
	account.Verified = true
	return nil
}

func (m *memStore) CreateResetGrant(ctx context.Context, accountID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return identity.ErrAccountNotFound
	}
	for _, grant := range m.grants {
		if grant.accountID == accountID {
			grant.used = true
		}
	}
	m.grants[token] = &memGrant{accountID: accountID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) ResetPasswordByGrant(ctx context.Context, token, hash string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grant, ok := m.grants[token]
	if !ok || grant.used || !grant.expiresAt.After(now) {
		return "", identity.ErrInvalidResetGrant
	}
	account, ok := m.accounts[grant.accountID]
	if !ok {
		return "", identity.ErrInvalidResetGrant
	}
	grant.used = true
	account.PasswordHash = hash
	account.PasswordChangedAt = &now
	return account.ID, nil
}

func clone(a *identity.Account) *identity.Account {
	out := *a
	out.BackupCodes = append([]string(nil), a.BackupCodes...)
	return &out
}

type apiFixture struct {
	svc    *identity.Service
	server http.Handler
	codes  *totp.Manager
}

func newAPIFixture(t *testing.T, providers ...oauth.Provider) *apiFixture {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}

	cfg := identity.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.RateLimit.Enabled = false
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}
	cipher, err := secret.New(key)
	if err != nil {
		t.Fatalf("secret.New failed: %v", err)
	}

	builder := identity.New().
		WithConfig(cfg).
		WithStore(newMemStore()).
		WithCipher(cipher)
	for _, p := range providers {
		builder.WithOAuthProvider(p)
	}
	svc, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(svc.Close)

	codes, err := totp.NewManager(totp.Config{
		Issuer:    cfg.TOTP.Issuer,
		Digits:    cfg.TOTP.Digits,
		Period:    cfg.TOTP.Period,
		Skew:      cfg.TOTP.Skew,
		Algorithm: cfg.TOTP.Algorithm,
	})
	if err != nil {
		t.Fatalf("totp.NewManager failed: %v", err)
	}

	handler := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &apiFixture{svc: svc, server: handler.Routes(), codes: codes}
}

func (f *apiFixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response body %q is not JSON: %v", rec.Body.String(), err)
	}
	return out
}

const testPassword = "Str0ngPass!word"

func (f *apiFixture) registerAndLogin(t *testing.T, email string) (accessToken, refreshToken string) {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":      email,
		"password":   testPassword,
		"first_name": "Test",
		"last_name":  "User",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("login response missing tokens: %v", body)
	}
	return access, refresh
}
