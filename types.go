package identity

import (
	"context"
	"time"
)

// Role is the closed set of roles an account can hold.
type Role string

const (
	RoleCEO   Role = "ceo"
	RoleCFO   Role = "cfo"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a member of the role set.
func (r Role) Valid() bool {
	switch r {
	case RoleCEO, RoleCFO, RoleAdmin:
		return true
	}
	return false
}

// Account is the credential-store entity. PasswordHash is empty for
// OAuth-only accounts; MFASecret and OAuthToken hold ciphertext, never
// plaintext. BackupCodes holds one-way hashes consumed exactly once.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role

	MFAEnabled  bool
	MFASecret   string
	BackupCodes []string

	OAuthProvider string
	OAuthID       string
	OAuthToken    string

	Active   bool
	Verified bool

	FailedLogins      int
	LockUntil         *time.Time
	LastLogin         *time.Time
	PasswordChangedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the account is inside a lockout window. Lock
// expiry is implicit: the field is never cleared, it just passes.
func (a *Account) Locked(now time.Time) bool {
	return a.LockUntil != nil && a.LockUntil.After(now)
}

// NewAccount is the store input for account creation.
type NewAccount struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role
	Verified     bool

	OAuthProvider string
	OAuthID       string
	OAuthToken    string
}

// CredentialStore is the persistence contract for accounts and reset
// grants. Implementations must make the read-modify-write operations
// (failed-login counting, backup-code consumption, grant redemption)
// atomic per account.
type CredentialStore interface {
	CreateAccount(ctx context.Context, in NewAccount) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByID(ctx context.Context, id string) (*Account, error)

	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	SetActive(ctx context.Context, id string, active bool) error

	// RecordFailedLogin increments the failure counter; crossing
	// maxAttempts locks the account for lockFor and resets the counter
	// as part of that transition. Returns the lock deadline when the
	// call caused or extended a lock.
	RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockFor time.Duration) (*time.Time, error)
	RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error

	EnableMFA(ctx context.Context, id, encryptedSecret string, backupHashes []string) error
	DisableMFA(ctx context.Context, id string) error
	ReplaceBackupCodes(ctx context.Context, id string, backupHashes []string) error
	// ConsumeBackupCode removes hash from the account's set and reports
	// whether it was present. A hash is spendable at most once.
	ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error)

	LinkOAuth(ctx context.Context, id, provider, externalID, encryptedToken string) error

	// CreateResetGrant stores a new grant and marks every prior unused
	// grant for the account used.
	CreateResetGrant(ctx context.Context, accountID, token string, expiresAt time.Time) error
	// ResetPasswordByGrant redeems an unused, unexpired grant and sets
	// the new hash in one atomic unit, returning the account id.
	ResetPasswordByGrant(ctx context.Context, token, passwordHash string, now time.Time) (string, error)
}

// TokenPair is an access token and the refresh token that renews it.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResult is the outcome of a password login. When MFARequired is
// set the tokens are empty and the caller must complete the second
// factor with CompleteMFALogin.
type LoginResult struct {
	Tokens      TokenPair
	MFARequired bool
	AccountID   string
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      Role
}

// TOTPProvision is a freshly generated enrollment offer: the seed to
// confirm and the otpauth URI to render for the authenticator app.
type TOTPProvision struct {
	Secret string
	URI    string
}
