package models

import "time"

// UserSession is the server-side session record kept in Valkey. The Plugin
// field records which plugin authenticated the principal ("local" for
// built-in accounts).
type UserSession struct {
	ID           string    `json:"id"`
	PrincipalID  string    `json:"principal_id"`
	Plugin       string    `json:"plugin"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
}

// LocalAccount is a service-owned credential record, used for the bootstrap
// administrator and any other accounts created outside a directory. Secrets
// stay in the struct so the store can round-trip them; handlers must only
// ever return Redacted copies.
type LocalAccount struct {
	Login                 string     `json:"login"`
	FullName              string     `json:"full_name"`
	Email                 string     `json:"email"`
	PasswordHash          string     `json:"password_hash,omitempty"`
	Roles                 []string   `json:"roles"`
	Active                bool       `json:"active"`
	RequirePasswordChange bool       `json:"require_password_change"`
	TOTPEnabled           bool       `json:"totp_enabled"`
	TOTPSecret            string     `json:"totp_secret,omitempty"`
	BackupCodes           []string   `json:"backup_codes,omitempty"`
	PasswordChangedAt     *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Redacted strips credential material for API responses.
func (a *LocalAccount) Redacted() *LocalAccount {
	c := *a
	c.PasswordHash = ""
	c.TOTPSecret = ""
	c.BackupCodes = nil
	return &c
}
