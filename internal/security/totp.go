package security

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/pquerna/otp/totp"

	"github.com/authgrid/ldap-admin/internal/config"
	"github.com/authgrid/ldap-admin/internal/models"
)

// ErrInvalidTOTPCode is returned when a TOTP management operation is given
// a code that neither the authenticator nor the backup list accepts.
var ErrInvalidTOTPCode = errors.New("invalid totp code")

const backupCodeCount = 10

// TOTPSetup is handed back from SetupTOTP: the shared secret, the
// otpauth:// enrollment URL for QR rendering, and the backup codes.
type TOTPSetup struct {
	Secret      string   `json:"secret"`
	URL         string   `json:"url"`
	BackupCodes []string `json:"backup_codes"`
}

// SetupTOTP generates a fresh TOTP secret and backup codes for a local
// account. Enforcement stays off until ConfirmTOTP sees a valid code, so an
// operator who never scans the QR code is not locked out.
func (m *Manager) SetupTOTP(ctx context.Context, login string) (*TOTPSetup, error) {
	account, err := m.store.GetLocalAccount(ctx, login)
	if err != nil {
		return nil, err
	}

	issuer := m.opts.Auth.TOTP.Issuer
	if issuer == "" {
		issuer = config.ServiceName
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account.Login,
		SecretSize:  32,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	codes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	account.TOTPSecret = key.Secret()
	account.TOTPEnabled = false
	account.BackupCodes = codes
	if err := m.store.SaveLocalAccount(ctx, account); err != nil {
		return nil, err
	}

	m.logger.Info("TOTP setup started", "login", login)
	return &TOTPSetup{Secret: key.Secret(), URL: key.URL(), BackupCodes: codes}, nil
}

// ConfirmTOTP verifies a code against the pending secret and switches TOTP
// enforcement on for the account.
func (m *Manager) ConfirmTOTP(ctx context.Context, login, code string) error {
	account, err := m.store.GetLocalAccount(ctx, login)
	if err != nil {
		return err
	}
	if account.TOTPSecret == "" {
		return fmt.Errorf("no pending TOTP setup for %s", login)
	}
	if !totp.Validate(code, account.TOTPSecret) {
		return ErrInvalidTOTPCode
	}
	account.TOTPEnabled = true
	if err := m.store.SaveLocalAccount(ctx, account); err != nil {
		return err
	}
	m.logger.Info("TOTP enabled", "login", login)
	return nil
}

// DisableTOTP turns enforcement off after proving possession of a current
// code or an unused backup code, and discards the secret.
func (m *Manager) DisableTOTP(ctx context.Context, login, code string) error {
	account, err := m.store.GetLocalAccount(ctx, login)
	if err != nil {
		return err
	}
	if !account.TOTPEnabled {
		return nil
	}
	if !m.consumeTOTPCode(ctx, account, code) {
		return ErrInvalidTOTPCode
	}
	account.TOTPEnabled = false
	account.TOTPSecret = ""
	account.BackupCodes = nil
	if err := m.store.SaveLocalAccount(ctx, account); err != nil {
		return err
	}
	m.logger.Info("TOTP disabled", "login", login)
	return nil
}

// RegenerateBackupCodes replaces the backup codes after proving a current
// TOTP code. The old codes stop working immediately.
func (m *Manager) RegenerateBackupCodes(ctx context.Context, login, code string) ([]string, error) {
	account, err := m.store.GetLocalAccount(ctx, login)
	if err != nil {
		return nil, err
	}
	if !account.TOTPEnabled {
		return nil, fmt.Errorf("TOTP is not enabled for %s", login)
	}
	if !totp.Validate(code, account.TOTPSecret) {
		return nil, ErrInvalidTOTPCode
	}
	codes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}
	account.BackupCodes = codes
	if err := m.store.SaveLocalAccount(ctx, account); err != nil {
		return nil, err
	}
	m.logger.Info("Backup codes regenerated", "login", login)
	return codes, nil
}

// consumeTOTPCode accepts either a current TOTP code or an unused backup
// code. A matched backup code is removed from the account before reporting
// success, so each works exactly once.
func (m *Manager) consumeTOTPCode(ctx context.Context, account *models.LocalAccount, code string) bool {
	if code == "" {
		return false
	}
	if totp.Validate(code, account.TOTPSecret) {
		return true
	}
	for i, backup := range account.BackupCodes {
		if backup != code {
			continue
		}
		account.BackupCodes = append(account.BackupCodes[:i], account.BackupCodes[i+1:]...)
		if err := m.store.SaveLocalAccount(ctx, account); err != nil {
			m.logger.Error("Failed to persist backup code use", "login", account.Login, "error", err)
			return false
		}
		m.logger.Info("Backup code used", "login", account.Login, "remaining", len(account.BackupCodes))
		return true
	}
	return false
}

// generateBackupCodes mints n random recovery codes.
func generateBackupCodes(n int) ([]string, error) {
	codes := make([]string, n)
	for i := range codes {
		b := make([]byte, 8)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate backup codes: %w", err)
		}
		codes[i] = fmt.Sprintf("%08x", b)
	}
	return codes, nil
}
