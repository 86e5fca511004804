package directory

import (
	"errors"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

var (
	// ErrInvalidCredentials is returned when the directory rejects the
	// user's password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEntryNotFound is returned when a login or uid query matches no
	// entry, or matches more than one and is therefore ambiguous.
	ErrEntryNotFound = errors.New("entry not found")
)

// IsInvalidCredentials reports whether err means a failed password check
// rather than an operational problem.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials)
}

// isRetryableError determines if an operation should be retried on a fresh
// connection.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if ldap.IsErrorWithCode(err, ldap.LDAPResultBusy) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultOperationsError) {
		return true
	}

	// Network-level failures surface as plain errors from the underlying
	// connection.
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset")
}
