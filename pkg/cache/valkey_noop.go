package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// noopValkeyCache provides an in-memory, process-local fallback that satisfies
// ValkeyCache when the external cache is unavailable. It is best-effort and
// intended for development and degraded operation; data is not shared across
// replicas and is lost on restart.
type noopValkeyCache struct {
	m      map[string][]byte
	locks  map[string]time.Time
	mu     sync.RWMutex
	logger logger.Logger
}

func NewNoopValkeyCache(log logger.Logger) ValkeyCache {
	log.Warn("Valkey cache unavailable; using in-memory fallback (noop)")
	return &noopValkeyCache{
		m:      make(map[string][]byte),
		locks:  make(map[string]time.Time),
		logger: log,
	}
}

func (n *noopValkeyCache) Get(ctx context.Context, key string) ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	b, ok := n.m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return b, nil
}

func (n *noopValkeyCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		jb, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b = jb
	}
	n.mu.Lock()
	n.m[key] = b
	n.mu.Unlock()
	return nil
}

func (n *noopValkeyCache) Delete(ctx context.Context, key string) error {
	n.mu.Lock()
	delete(n.m, key)
	n.mu.Unlock()
	return nil
}

func (n *noopValkeyCache) SetSession(ctx context.Context, session *models.UserSession) error {
	session.LastActivity = time.Now()
	return n.Set(ctx, fmt.Sprintf(sessionKeyFormat, session.ID), session, sessionTTL)
}

func (n *noopValkeyCache) GetSession(ctx context.Context, sessionID string) (*models.UserSession, error) {
	b, err := n.Get(ctx, fmt.Sprintf(sessionKeyFormat, sessionID))
	if err != nil {
		return nil, err
	}
	var s models.UserSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (n *noopValkeyCache) InvalidateSession(ctx context.Context, sessionID string) error {
	return n.Delete(ctx, fmt.Sprintf(sessionKeyFormat, sessionID))
}

func (n *noopValkeyCache) GetActiveSessions(ctx context.Context) ([]*models.UserSession, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := []*models.UserSession{}
	for k, v := range n.m {
		if strings.HasPrefix(k, "session:") {
			var s models.UserSession
			if json.Unmarshal(v, &s) == nil {
				out = append(out, &s)
			}
		}
	}
	return out, nil
}

func (n *noopValkeyCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	lockKey := fmt.Sprintf(lockKeyFormat, key)
	if exp, held := n.locks[lockKey]; held && time.Now().Before(exp) {
		return false, nil
	}
	n.locks[lockKey] = time.Now().Add(ttl)
	return true, nil
}

func (n *noopValkeyCache) ReleaseLock(ctx context.Context, key string) error {
	n.mu.Lock()
	delete(n.locks, fmt.Sprintf(lockKeyFormat, key))
	n.mu.Unlock()
	return nil
}

// HealthCheck returns an error to indicate no external Valkey connectivity.
func (n *noopValkeyCache) HealthCheck(ctx context.Context) error {
	return fmt.Errorf("valkey noop cache in use (external cache not connected)")
}
