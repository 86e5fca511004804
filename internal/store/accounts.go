package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authgrid/ldap-admin/internal/models"
)

// GetLocalAccount loads one local account by login.
func (s *Store) GetLocalAccount(ctx context.Context, login string) (*models.LocalAccount, error) {
	var a models.LocalAccount
	if err := s.getDocument(ctx, fmt.Sprintf(localAccountKeyFormat, login), &a); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("local account %q: %w", login, ErrNotFound)
		}
		return nil, err
	}
	return &a, nil
}

// SaveLocalAccount writes the account document, credential material included,
// and registers the login in the index. Callers hand out Redacted copies only.
func (s *Store) SaveLocalAccount(ctx context.Context, a *models.LocalAccount) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if err := s.putDocument(ctx, fmt.Sprintf(localAccountKeyFormat, a.Login), a); err != nil {
		return err
	}
	return s.addToIndex(ctx, localAccountIndexKey, a.Login)
}

// DeleteLocalAccount removes the account document and drops it from the index.
func (s *Store) DeleteLocalAccount(ctx context.Context, login string) error {
	if _, err := s.GetLocalAccount(ctx, login); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, fmt.Sprintf(localAccountKeyFormat, login)); err != nil {
		return fmt.Errorf("failed to delete local account %q: %w", login, err)
	}
	return s.removeFromIndex(ctx, localAccountIndexKey, login)
}

// LocalAccountLogins returns the sorted logins of all stored accounts.
func (s *Store) LocalAccountLogins(ctx context.Context) ([]string, error) {
	return s.readIndex(ctx, localAccountIndexKey)
}

// ListLocalAccounts loads every account named in the index, skipping dangling
// index entries the same way ListPlugins does.
func (s *Store) ListLocalAccounts(ctx context.Context) ([]*models.LocalAccount, error) {
	logins, err := s.LocalAccountLogins(ctx)
	if err != nil {
		return nil, err
	}

	accounts := make([]*models.LocalAccount, 0, len(logins))
	for _, login := range logins {
		a, err := s.GetLocalAccount(ctx, login)
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("Local account in index has no document, skipping", "login", login)
			continue
		}
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}
