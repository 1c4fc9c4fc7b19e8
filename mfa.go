package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/radarhq/identity/internal"
	"github.com/radarhq/identity/secret"
)

// ProvisionTOTP generates a fresh seed and the otpauth URI to enroll it.
// Nothing is persisted until EnableMFA confirms the seed with a valid
// code.
func (s *Service) ProvisionTOTP(ctx context.Context, accountID string) (*TOTPProvision, error) {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if account.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	seed, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	return &TOTPProvision{
		Secret: seed,
		URI:    s.totp.ProvisioningURI(seed, account.Email),
	}, nil
}

// EnableMFA turns MFA on after the caller proves possession of the seed
// with a current code. The seed is stored encrypted; the returned backup
// codes are shown to the user exactly once and persisted only as hashes.
func (s *Service) EnableMFA(ctx context.Context, accountID, seed, code string) (codes []string, err error) {
	defer func() { s.emitAudit(ctx, "mfa_enable", accountID, "", err) }()

	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if account.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	ok, err := s.totp.Verify(seed, code, s.now())
	if err != nil {
		return nil, fmt.Errorf("verify totp: %w", err)
	}
	if !ok {
		return nil, ErrMFAInvalidCode
	}

	encrypted, err := s.cipher.Encrypt(seed)
	if err != nil {
		return nil, fmt.Errorf("encrypt totp secret: %w", err)
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.store.EnableMFA(ctx, account.ID, encrypted, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return codes, nil
}

// VerifyMFA checks a second-factor code for an account with MFA enabled.
func (s *Service) VerifyMFA(ctx context.Context, accountID, code string) (ok bool, err error) {
	defer func() { s.emitAudit(ctx, "mfa_verify", accountID, "", err) }()

	if rlErr := s.checkRate(ctx, "mfa:"+accountID, s.config.RateLimit.MFAVerify); rlErr != nil {
		return false, rlErr
	}

	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, err
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.verifyMFACode(ctx, account, code)
}

// DisableMFA clears the seed and every backup code.
func (s *Service) DisableMFA(ctx context.Context, accountID string) (err error) {
	defer func() { s.emitAudit(ctx, "mfa_disable", accountID, "", err) }()

	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !account.MFAEnabled {
		return ErrMFANotEnabled
	}

	if err := s.store.DisableMFA(ctx, account.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RegenerateBackupCodes replaces the whole backup-code set. Requires MFA
// already enabled; old codes stop working the moment this returns.
func (s *Service) RegenerateBackupCodes(ctx context.Context, accountID string) (codes []string, err error) {
	defer func() { s.emitAudit(ctx, "backup_codes_regenerate", accountID, "", err) }()

	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !account.MFAEnabled {
		return nil, ErrMFANotEnabled
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceBackupCodes(ctx, account.ID, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return codes, nil
}

// verifyMFACode tries TOTP first and falls back to the backup-code set.
// A matched backup code is consumed; reuse fails.
func (s *Service) verifyMFACode(ctx context.Context, account *Account, code string) (bool, error) {
	if !account.MFAEnabled || account.MFASecret == "" {
		return false, ErrMFANotEnabled
	}

	seed, err := s.cipher.Decrypt(account.MFASecret)
	if err != nil {
		if errors.Is(err, secret.ErrDecryptFailed) {
			return false, fmt.Errorf("mfa secret for account %s: %w", account.ID, err)
		}
		return false, err
	}

	ok, err := s.totp.Verify(seed, code, s.now())
	if err != nil {
		return false, fmt.Errorf("verify totp: %w", err)
	}
	if ok {
		return true, nil
	}

	consumed, err := s.store.ConsumeBackupCode(ctx, account.ID, internal.HashCode(code))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return consumed, nil
}

func (s *Service) newBackupCodes() (codes, hashes []string, err error) {
	n := s.config.TOTP.BackupCodes
	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := internal.NewBackupCode()
		if err != nil {
			return nil, nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, internal.HashCode(code))
	}
	return codes, hashes, nil
}
