package cache

import (
	"context"
	"sync"
	"time"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// autoSwapCache wraps a ValkeyCache implementation and can swap from a
// fallback (e.g., in-memory noop) to a real Valkey client once it becomes
// available. It satisfies the ValkeyCache interface by delegating all calls
// to the currently active implementation.
type autoSwapCache struct {
	mu      sync.RWMutex
	current ValkeyCache
	logger  logger.Logger

	// control for background connector
	stopCh chan struct{}
}

// newAutoSwapCache creates an auto-swapping cache that starts with `fallback`
// and keeps trying `dialReal` until it succeeds, then atomically swaps.
func newAutoSwapCache(
	fallback ValkeyCache,
	logger logger.Logger,
	dialReal func() (ValkeyCache, error),
) *autoSwapCache {
	a := &autoSwapCache{
		current: fallback,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				real, err := dialReal()
				if err != nil {
					a.logger.Warn("Valkey connection attempt failed; will retry", "error", err)
					continue
				}
				a.mu.Lock()
				a.current = real
				a.mu.Unlock()
				a.logger.Info("Valkey connection established; switched from in-memory to real cache")
				return // stop after first successful swap
			}
		}
	}()

	return a
}

// Stop stops the background connector (used if the parent context is cancelled).
func (a *autoSwapCache) Stop() { close(a.stopCh) }

/* --- Delegate methods to active implementation --- */

func (a *autoSwapCache) active() ValkeyCache {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

func (a *autoSwapCache) Get(ctx context.Context, key string) ([]byte, error) {
	return a.active().Get(ctx, key)
}

func (a *autoSwapCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return a.active().Set(ctx, key, value, ttl)
}

func (a *autoSwapCache) Delete(ctx context.Context, key string) error {
	return a.active().Delete(ctx, key)
}

func (a *autoSwapCache) GetSession(ctx context.Context, sessionID string) (*models.UserSession, error) {
	return a.active().GetSession(ctx, sessionID)
}

func (a *autoSwapCache) SetSession(ctx context.Context, session *models.UserSession) error {
	return a.active().SetSession(ctx, session)
}

func (a *autoSwapCache) InvalidateSession(ctx context.Context, sessionID string) error {
	return a.active().InvalidateSession(ctx, sessionID)
}

func (a *autoSwapCache) GetActiveSessions(ctx context.Context) ([]*models.UserSession, error) {
	return a.active().GetActiveSessions(ctx)
}

func (a *autoSwapCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return a.active().AcquireLock(ctx, key, ttl)
}

func (a *autoSwapCache) ReleaseLock(ctx context.Context, key string) error {
	return a.active().ReleaseLock(ctx, key)
}

func (a *autoSwapCache) HealthCheck(ctx context.Context) error {
	return a.active().HealthCheck(ctx)
}

// NewAutoSwapForSingle creates an auto-swapping cache that upgrades from
// in-memory to a single-node Valkey client when reachable.
func NewAutoSwapForSingle(addr string, db int, password string, ttl time.Duration, log logger.Logger, fallback ValkeyCache) ValkeyCache {
	return newAutoSwapCache(fallback, log, func() (ValkeyCache, error) {
		return NewValkeySingle(addr, db, password, ttl)
	})
}

// NewAutoSwapForCluster creates an auto-swapping cache that upgrades from
// in-memory to a Valkey cluster client when reachable.
func NewAutoSwapForCluster(nodes []string, ttl time.Duration, log logger.Logger, fallback ValkeyCache) ValkeyCache {
	return newAutoSwapCache(fallback, log, func() (ValkeyCache, error) {
		return NewValkeyCluster(nodes, ttl)
	})
}
