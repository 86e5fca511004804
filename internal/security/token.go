package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authgrid/ldap-admin/internal/config"
	"github.com/authgrid/ldap-admin/internal/models"
)

const defaultTokenExpiry = 60 * time.Minute

// IssueToken signs a JWT for a session. The token carries the session ID in
// the "sid" claim, so revoking the session server-side kills the token even
// before its expiry.
func (m *Manager) IssueToken(session *models.UserSession) (string, time.Time, error) {
	expiry := time.Duration(m.opts.Auth.JWT.ExpiryMinutes) * time.Minute
	if expiry <= 0 {
		expiry = defaultTokenExpiry
	}
	now := time.Now()
	expiresAt := now.Add(expiry)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   config.ServiceName,
		"sub":   session.PrincipalID,
		"sid":   session.ID,
		"roles": session.Roles,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(m.opts.Auth.JWT.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// SessionIDFromToken validates a JWT and extracts the session ID it carries.
func (m *Manager) SessionIDFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.opts.Auth.JWT.Secret), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	sid, ok := claims["sid"].(string)
	if !ok || sid == "" {
		return "", fmt.Errorf("token carries no session ID")
	}
	return sid, nil
}
