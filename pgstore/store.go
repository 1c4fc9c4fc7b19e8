package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radarhq/identity"
)

const uniqueViolation = "23505"

// Store implements identity.CredentialStore on PostgreSQL. Per-account
// read-modify-write sequences run inside transactions with row locks so
// concurrent attempts against one account serialize.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const accountColumns = `
	id, email, password_hash, first_name, last_name, role,
	mfa_enabled, mfa_secret, backup_codes,
	oauth_provider, oauth_id, oauth_token,
	active, verified, failed_logins,
	lock_until, last_login, password_changed_at,
	created_at, updated_at`

func scanAccount(row pgx.Row) (*identity.Account, error) {
	var a identity.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName, &a.Role,
		&a.MFAEnabled, &a.MFASecret, &a.BackupCodes,
		&a.OAuthProvider, &a.OAuthID, &a.OAuthToken,
		&a.Active, &a.Verified, &a.FailedLogins,
		&a.LockUntil, &a.LastLogin, &a.PasswordChangedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, in identity.NewAccount) (*identity.Account, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, first_name, last_name, role,
			oauth_provider, oauth_id, oauth_token, verified
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING`+accountColumns,
		uuid.NewString(), in.Email, in.PasswordHash, in.FirstName, in.LastName, in.Role,
		in.OAuthProvider, in.OAuthID, in.OAuthToken, in.Verified,
	)
	account, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, identity.ErrDuplicateEmail
		}
		return nil, err
	}
	return account, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*identity.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT`+accountColumns+` FROM accounts WHERE email = $1`, email))
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*identity.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT`+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	return s.execOnAccount(ctx, `
		UPDATE accounts
		SET password_hash = $2, password_changed_at = $3, updated_at = now()
		WHERE id = $1`, id, passwordHash, changedAt)
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.execOnAccount(ctx, `
		UPDATE accounts SET active = $2, updated_at = now() WHERE id = $1`, id, active)
}

func (s *Store) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockFor time.Duration) (*time.Time, error) {
	var lockUntil *time.Time
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var failed int
		err := tx.QueryRow(ctx,
			`SELECT failed_logins FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&failed)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return identity.ErrAccountNotFound
			}
			return err
		}

		failed++
		if failed >= maxAttempts {
			until := time.Now().Add(lockFor)
			lockUntil = &until
			// The counter resets as part of the lock transition so the
			// next cycle starts fresh.
			_, err = tx.Exec(ctx, `
				UPDATE accounts
				SET failed_logins = 0, lock_until = $2, updated_at = now()
				WHERE id = $1`, id, until)
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE accounts SET failed_logins = $2, updated_at = now() WHERE id = $1`,
			id, failed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lockUntil, nil
}

func (s *Store) RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	return s.execOnAccount(ctx, `
		UPDATE accounts
		SET failed_logins = 0, lock_until = NULL, last_login = $2, updated_at = now()
		WHERE id = $1`, id, at)
}

func (s *Store) EnableMFA(ctx context.Context, id, encryptedSecret string, backupHashes []string) error {
	return s.execOnAccount(ctx, `
		UPDATE accounts
		SET mfa_enabled = TRUE, mfa_secret = $2, backup_codes = $3, updated_at = now()
		WHERE id = $1`, id, encryptedSecret, backupHashes)
}

func (s *Store) DisableMFA(ctx context.Context, id string) error {
	return s.execOnAccount(ctx, `
		UPDATE accounts
		SET mfa_enabled = FALSE, mfa_secret = '', backup_codes = '{}', updated_at = now()
		WHERE id = $1`, id)
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, backupHashes []string) error {
	return s.execOnAccount(ctx, `
		UPDATE accounts SET backup_codes = $2, updated_at = now() WHERE id = $1`,
		id, backupHashes)
}

func (s *Store) ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error) {
	consumed := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var codes []string
		err := tx.QueryRow(ctx,
			`SELECT backup_codes FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&codes)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return identity.ErrAccountNotFound
			}
			return err
		}

		remaining := codes[:0]
		for _, stored := range codes {
			if !consumed && stored == hash {
				consumed = true
				continue
			}
			remaining = append(remaining, stored)
		}
		if !consumed {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE accounts SET backup_codes = $2, updated_at = now() WHERE id = $1`,
			id, remaining)
		return err
	})
	if err != nil {
		return false, err
	}
	return consumed, nil
}

func (s *Store) LinkOAuth(ctx context.Context, id, provider, externalID, encryptedToken string) error {
	return s.execOnAccount(ctx, `
		UPDATE accounts
		SET oauth_provider = $2, oauth_id = $3, oauth_token = $4, verified = TRUE,
		    updated_at = now()
		WHERE id = $1`, id, provider, externalID, encryptedToken)
}

func (s *Store) CreateResetGrant(ctx context.Context, accountID, token string, expiresAt time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE password_reset_grants SET used = TRUE
			WHERE account_id = $1 AND NOT used`, accountID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO password_reset_grants (id, account_id, token, expires_at)
			VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), accountID, token, expiresAt)
		return err
	})
}

func (s *Store) ResetPasswordByGrant(ctx context.Context, token, passwordHash string, now time.Time) (string, error) {
	var accountID string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var expiresAt time.Time
		var used bool
		err := tx.QueryRow(ctx, `
			SELECT account_id, expires_at, used
			FROM password_reset_grants WHERE token = $1 FOR UPDATE`, token).
			Scan(&accountID, &expiresAt, &used)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return identity.ErrInvalidResetGrant
			}
			return err
		}
		if used || !expiresAt.After(now) {
			return identity.ErrInvalidResetGrant
		}

		if _, err := tx.Exec(ctx, `
			UPDATE password_reset_grants SET used = TRUE WHERE token = $1`, token); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET password_hash = $2, password_changed_at = $3, updated_at = now()
			WHERE id = $1`, accountID, passwordHash, now)
		return err
	})
	if err != nil {
		return "", err
	}
	return accountID, nil
}

// execOnAccount runs an UPDATE keyed by account id and converts a zero
// row count into ErrAccountNotFound.
func (s *Store) execOnAccount(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrAccountNotFound
	}
	return nil
}
