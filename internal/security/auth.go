package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/authgrid/ldap-admin/internal/directory"
	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/monitoring"
	"github.com/authgrid/ldap-admin/internal/store"
)

var (
	// ErrInvalidCredentials is returned when no authenticator accepts the
	// login/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTOTPRequired is returned when the password checked out but the
	// account requires a one-time code the request did not carry.
	ErrTOTPRequired = errors.New("totp code required")

	// errTryPlugins signals that local authentication did not settle the
	// attempt and the directory plugins should get their turn.
	errTryPlugins = errors.New("try directory plugins")
)

// Credentials is one login attempt. The TOTP code is only consulted for
// local accounts that have TOTP enabled.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

// AuthResult is a successful authentication: the resolved principal, the
// authenticator that accepted it and the roles the session will carry.
type AuthResult struct {
	Principal             *models.Principal
	Plugin                string
	Roles                 []string
	RequirePasswordChange bool
}

// Authenticate checks credentials against the built-in accounts first, then
// every enabled plugin in creation order. A directory that is down is
// logged and skipped; the next plugin still gets its chance.
func (m *Manager) Authenticate(ctx context.Context, creds Credentials) (*AuthResult, error) {
	login := strings.TrimSpace(creds.Login)
	if login == "" || creds.Password == "" {
		return nil, ErrInvalidCredentials
	}

	result, err := m.authenticateLocal(ctx, login, creds)
	switch {
	case err == nil:
		monitoring.RecordAuthAttempt(LocalPluginName, "success")
		m.publish(models.EventLoginSuccess, LocalPluginName, result.Principal.ID,
			fmt.Sprintf("%s logged in", result.Principal.ID))
		return result, nil
	case !errors.Is(err, errTryPlugins):
		return nil, err
	}

	plugins, err := m.enabledPlugins(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range plugins {
		entry, err := m.authenticatePlugin(ctx, p, login, creds.Password)
		if err != nil {
			continue
		}
		principal := userPrincipal(p, entry)
		monitoring.RecordAuthAttempt(p.Prefix, "success")
		m.publish(models.EventLoginSuccess, p.Prefix, principal.ID,
			fmt.Sprintf("%s logged in", principal.ID))
		return &AuthResult{
			Principal: principal,
			Plugin:    p.Prefix,
			// Directory users can browse; management rights come from a
			// matching local account.
			Roles: []string{models.RoleViewer},
		}, nil
	}

	m.publish(models.EventLoginFailure, "", "", fmt.Sprintf("failed login for %q", login))
	return nil, ErrInvalidCredentials
}

// authenticateLocal settles the attempt for local accounts. A missing or
// inactive account, and a wrong password, all yield errTryPlugins: the same
// login may well exist in a directory. A correct password with a failed
// TOTP step stops the chain instead, otherwise retrying the plugins would
// bypass the second factor.
func (m *Manager) authenticateLocal(ctx context.Context, login string, creds Credentials) (*AuthResult, error) {
	account, err := m.store.GetLocalAccount(ctx, login)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("Local account lookup failed", "login", login, "error", err)
		}
		return nil, errTryPlugins
	}
	if !account.Active {
		m.logger.Warn("Login attempt on inactive local account", "login", login)
		return nil, errTryPlugins
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(creds.Password)) != nil {
		monitoring.RecordAuthAttempt(LocalPluginName, "failure")
		return nil, errTryPlugins
	}

	principal := localAccountPrincipal(account)
	if account.TOTPEnabled {
		if creds.TOTPCode == "" {
			return nil, ErrTOTPRequired
		}
		if !m.consumeTOTPCode(ctx, account, creds.TOTPCode) {
			monitoring.RecordAuthAttempt(LocalPluginName, "failure")
			m.publish(models.EventLoginFailure, LocalPluginName, principal.ID, "invalid one-time code")
			return nil, ErrInvalidCredentials
		}
	}

	return &AuthResult{
		Principal:             principal,
		Plugin:                LocalPluginName,
		Roles:                 account.Roles,
		RequirePasswordChange: account.RequirePasswordChange,
	}, nil
}

func (m *Manager) authenticatePlugin(ctx context.Context, p *models.LDAPPlugin, login, password string) (*models.DirectoryEntry, error) {
	client, err := m.client(ctx, p.Prefix)
	if err != nil {
		m.logger.Warn("Directory client unavailable during login", "plugin", p.Prefix, "error", err)
		return nil, err
	}
	entry, err := client.Authenticate(ctx, login, password)
	if err != nil {
		if directory.IsInvalidCredentials(err) || errors.Is(err, directory.ErrEntryNotFound) {
			monitoring.RecordAuthAttempt(p.Prefix, "failure")
		} else {
			monitoring.RecordAuthAttempt(p.Prefix, "error")
			m.logger.Warn("Directory error during login, trying next plugin",
				"plugin", p.Prefix, "error", err)
		}
		return nil, err
	}
	return entry, nil
}

// localAccountPrincipal maps a built-in account to a principal.
func localAccountPrincipal(a *models.LocalAccount) *models.Principal {
	title := a.FullName
	if title == "" {
		title = a.Login
	}
	return &models.Principal{
		ID:    LocalPluginName + ":" + a.Login,
		Type:  models.PrincipalUser,
		Title: title,
		Mail:  a.Email,
	}
}

func (m *Manager) localPrincipal(ctx context.Context, login string) (*models.Principal, error) {
	account, err := m.store.GetLocalAccount(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%s", ErrPrincipalNotFound, LocalPluginName, login)
	}
	return localAccountPrincipal(account), nil
}

// ChangePassword rotates a local account's password after verifying the
// current one, clearing the password-change-required flag set by bootstrap.
func (m *Manager) ChangePassword(ctx context.Context, login, current, next string) error {
	if len(next) < 8 {
		return fmt.Errorf("new password must be at least 8 characters")
	}
	account, err := m.store.GetLocalAccount(ctx, login)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	now := time.Now().UTC()
	account.PasswordHash = string(hash)
	account.RequirePasswordChange = false
	account.PasswordChangedAt = &now
	if err := m.store.SaveLocalAccount(ctx, account); err != nil {
		return err
	}
	m.logger.Info("Local account password changed", "login", login)
	return nil
}

// CreateSession persists a server-side session for an authenticated
// principal. Lifetime is enforced by the cache TTL; revocation removes the
// record, which also kills any JWT that references it.
func (m *Manager) CreateSession(ctx context.Context, result *AuthResult, ip, userAgent string) (*models.UserSession, error) {
	now := time.Now().UTC()
	session := &models.UserSession{
		ID:           uuid.NewString(),
		PrincipalID:  result.Principal.ID,
		Plugin:       result.Plugin,
		Roles:        result.Roles,
		CreatedAt:    now,
		LastActivity: now,
		IPAddress:    ip,
		UserAgent:    userAgent,
	}
	if err := m.cache.SetSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	m.updateSessionGauge(ctx)
	return session, nil
}

// Session loads a session by ID.
func (m *Manager) Session(ctx context.Context, id string) (*models.UserSession, error) {
	return m.cache.GetSession(ctx, id)
}

// TouchSession refreshes the activity timestamp. Failures only cost
// freshness, so they are logged and swallowed.
func (m *Manager) TouchSession(ctx context.Context, session *models.UserSession) {
	session.LastActivity = time.Now().UTC()
	if err := m.cache.SetSession(ctx, session); err != nil {
		m.logger.Warn("Failed to refresh session activity", "session_id", session.ID, "error", err)
	}
}

// RevokeSession invalidates a session.
func (m *Manager) RevokeSession(ctx context.Context, id string) error {
	session, err := m.cache.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("session not found: %w", err)
	}
	if err := m.cache.InvalidateSession(ctx, id); err != nil {
		return err
	}
	m.publish(models.EventSessionRevoked, session.Plugin, session.PrincipalID,
		fmt.Sprintf("session for %s revoked", session.PrincipalID))
	m.updateSessionGauge(ctx)
	return nil
}

// ActiveSessions lists the sessions currently alive in the cache.
func (m *Manager) ActiveSessions(ctx context.Context) ([]*models.UserSession, error) {
	return m.cache.GetActiveSessions(ctx)
}

func (m *Manager) updateSessionGauge(ctx context.Context) {
	sessions, err := m.cache.GetActiveSessions(ctx)
	if err != nil {
		return
	}
	monitoring.SetActiveSessions(len(sessions))
}
