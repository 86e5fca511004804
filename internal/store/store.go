// Package store persists the service's configuration documents in Valkey:
// LDAP plugin definitions, local accounts and RBAC roles. Each document is a
// JSON blob under its own key, with a JSON array index per document class so
// listings never need a cluster-wide KEYS scan. Index updates run under a
// distributed lock because several replicas may admit writes concurrently.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/authgrid/ldap-admin/pkg/cache"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

const (
	pluginKeyFormat = "security:plugin:%s"
	pluginIndexKey  = "security:plugins"

	localAccountKeyFormat = "security:local:%s"
	localAccountIndexKey  = "security:locals"

	roleKeyFormat = "security:role:%s"
	roleIndexKey  = "security:roles"

	indexLockTTL        = 10 * time.Second
	indexLockWait       = 2 * time.Second
	indexLockRetryDelay = 25 * time.Millisecond
)

// Store reads and writes configuration documents through the shared Valkey
// cache client.
type Store struct {
	cache  cache.ValkeyCache
	logger logger.Logger
}

func New(c cache.ValkeyCache, log logger.Logger) *Store {
	return &Store{
		cache:  c,
		logger: log,
	}
}

/* ------------------------------ name indexes ------------------------------ */

func (s *Store) withIndexLock(ctx context.Context, indexKey string, fn func() error) error {
	deadline := time.Now().Add(indexLockWait)
	for {
		ok, err := s.cache.AcquireLock(ctx, indexKey, indexLockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire lock for %s: %w", indexKey, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for lock on %s", indexKey)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(indexLockRetryDelay):
		}
	}

	defer func() {
		// Release with a fresh context: the request context may already be
		// canceled, and a leaked lock blocks every replica until the TTL.
		if err := s.cache.ReleaseLock(context.Background(), indexKey); err != nil {
			s.logger.Warn("Failed to release index lock", "key", indexKey, "error", err)
		}
	}()

	return fn()
}

func (s *Store) readIndex(ctx context.Context, indexKey string) ([]string, error) {
	data, err := s.cache.Get(ctx, indexKey)
	if errors.Is(err, cache.ErrKeyNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", indexKey, err)
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		s.logger.Warn("Corrupt index document, treating as empty", "key", indexKey, "error", err)
		return []string{}, nil
	}
	return names, nil
}

func (s *Store) writeIndex(ctx context.Context, indexKey string, names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to marshal index %s: %w", indexKey, err)
	}
	if err := s.cache.Set(ctx, indexKey, string(data), cache.NoExpiration); err != nil {
		return fmt.Errorf("failed to write index %s: %w", indexKey, err)
	}
	return nil
}

func (s *Store) addToIndex(ctx context.Context, indexKey, name string) error {
	return s.withIndexLock(ctx, indexKey, func() error {
		names, err := s.readIndex(ctx, indexKey)
		if err != nil {
			return err
		}
		for _, n := range names {
			if n == name {
				return nil
			}
		}
		names = append(names, name)
		sort.Strings(names)
		return s.writeIndex(ctx, indexKey, names)
	})
}

func (s *Store) removeFromIndex(ctx context.Context, indexKey, name string) error {
	return s.withIndexLock(ctx, indexKey, func() error {
		names, err := s.readIndex(ctx, indexKey)
		if err != nil {
			return err
		}
		kept := names[:0]
		for _, n := range names {
			if n != name {
				kept = append(kept, n)
			}
		}
		if len(kept) == len(names) {
			return nil
		}
		return s.writeIndex(ctx, indexKey, kept)
	})
}

/* ------------------------------- documents -------------------------------- */

func (s *Store) getDocument(ctx context.Context, key string, out interface{}) error {
	data, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *Store) putDocument(ctx context.Context, key string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.cache.Set(ctx, key, string(data), cache.NoExpiration); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}
