package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/radarhq/identity/oauth"
	"github.com/radarhq/identity/secret"
)

// memStore is an in-memory CredentialStore with the same atomicity
// guarantees the production store provides through transactions.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
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
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
		grants:   make(map[string]*memGrant),
	}
}

func (m *memStore) CreateAccount(ctx context.Context, in NewAccount) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[in.Email]; exists {
		return nil, ErrDuplicateEmail
	}

	now := time.Now()
	account := &Account{
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
	return cloneAccount(account), nil
}

func (m *memStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(m.accounts[id]), nil
}

func (m *memStore) GetAccountByID(ctx context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (m *memStore) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.PasswordHash = passwordHash
	account.PasswordChangedAt = &changedAt
	account.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) SetActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.Active = active
	account.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockFor time.Duration) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}

	account.FailedLogins++
	account.UpdatedAt = time.Now()
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
		return ErrAccountNotFound
	}
	account.FailedLogins = 0
	account.LockUntil = nil
	account.LastLogin = &at
	account.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) EnableMFA(ctx context.Context, id, encryptedSecret string, backupHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.MFAEnabled = true
	account.MFASecret = encryptedSecret
	account.BackupCodes = append([]string(nil), backupHashes...)
	account.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) DisableMFA(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.MFAEnabled = false
	account.MFASecret = ""
	account.BackupCodes = nil
	account.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) ReplaceBackupCodes(ctx context.Context, id string, backupHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.BackupCodes = append([]string(nil), backupHashes...)
	account.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return false, ErrAccountNotFound
	}
	for i, stored := range account.BackupCodes {
		if stored == hash {
			account.BackupCodes = append(account.BackupCodes[:i], account.BackupCodes[i+1:]...)
			account.UpdatedAt = time.Now()
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
		return ErrAccountNotFound
	}
	account.OAuthProvider = provider
	account.OAuthID = externalID
	account.OAuthToken = encryptedToken
	account.Verified = true
	account.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) CreateResetGrant(ctx context.Context, accountID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[accountID]; !ok {
		return ErrAccountNotFound
	}
	for _, grant := range m.grants {
		if grant.accountID == accountID {
			grant.used = true
		}
	}
	m.grants[token] = &memGrant{accountID: accountID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) ResetPasswordByGrant(ctx context.Context, token, passwordHash string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	grant, ok := m.grants[token]
	if !ok || grant.used || !grant.expiresAt.After(now) {
		return "", ErrInvalidResetGrant
	}
	account, ok := m.accounts[grant.accountID]
	if !ok {
		return "", ErrInvalidResetGrant
	}

	grant.used = true
	account.PasswordHash = passwordHash
	account.PasswordChangedAt = &now
	account.UpdatedAt = time.Now()
	return account.ID, nil
}

func cloneAccount(a *Account) *Account {
	out := *a
	out.BackupCodes = append([]string(nil), a.BackupCodes...)
	return &out
}

// testHarness bundles a service with the fakes behind it.
type testHarness struct {
	svc   *Service
	store *memStore
	redis *miniredis.Miniredis
}

func testServiceConfig(t *testing.T) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	// Cheap argon2 parameters keep the suite fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestService(t *testing.T, mutate func(*Config), providers ...oauth.Provider) *testHarness {
	t.Helper()

	cfg := testServiceConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}
	cipher, err := secret.New(key)
	if err != nil {
		t.Fatalf("secret.New failed: %v", err)
	}

	store := newMemStore()
	builder := New().
		WithConfig(cfg).
		WithRedis(client).
		WithStore(store).
		WithCipher(cipher)
	for _, p := range providers {
		builder.WithOAuthProvider(p)
	}
	svc, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(svc.Close)

	return &testHarness{svc: svc, store: store, redis: mr}
}

func (h *testHarness) register(t *testing.T, email, pass string) *Account {
	t.Helper()
	account, err := h.svc.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  pass,
		FirstName: "Test",
		LastName:  "User",
		Role:      RoleCEO,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return account
}

// currentTOTP computes the code an authenticator app would show for the
// account's enrolled seed right now.
func (h *testHarness) currentTOTP(t *testing.T, seed string) string {
	t.Helper()
	code, err := h.svc.totp.CodeAt(seed, h.svc.now())
	if err != nil {
		t.Fatalf("CodeAt failed: %v", err)
	}
	return code
}

const testPassword = "Str0ngPass!word"

func exhaustLoginBudget(t *testing.T, h *testHarness, email string) {
	t.Helper()
	// Widen the login budget checks run against by resetting the
	// limiter between attempts, so lockout behavior is observed in
	// isolation from rate limiting.
	for i := 0; i < h.svc.config.Lockout.MaxAttempts; i++ {
		if err := h.svc.limiter.Reset(context.Background(), "login:"+email); err != nil {
			t.Fatalf("limiter reset failed: %v", err)
		}
		if _, err := h.svc.Login(context.Background(), email, "Wrong-Pass-1!x"); err == nil {
			t.Fatalf("attempt %d: wrong password accepted", i+1)
		}
	}
	if err := h.svc.limiter.Reset(context.Background(), "login:"+email); err != nil {
		t.Fatalf("limiter reset failed: %v", err)
	}
}
