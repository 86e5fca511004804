// Package cabundle maintains the trust anchors used for LDAP TLS: an
// optional PEM bundle on disk, watched for changes so certificate rotation
// reaches running connections without a restart.
package cabundle

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger is the logging surface the manager needs.
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
}

var (
	errInvalidPEMData       = errors.New("invalid PEM data in CA bundle")
	errUnexpectedPEMBlock   = errors.New("unexpected PEM block type")
	errNoCertificatesInPool = errors.New("no certificates found in CA bundle")
)

const certificateBlockType = "CERTIFICATE"

// Manager watches an optional CA bundle file and exposes a certificate pool
// built from it. The onChange callback lets directory clients drop their
// connections so the next dial picks up the new anchors.
type Manager struct {
	path     string
	logger   Logger
	onChange func()

	mu   sync.RWMutex
	pool *x509.CertPool

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a Manager for the given bundle path. An empty path
// yields a passive manager (system roots only, no watcher).
func NewManager(path string, log Logger, onChange func()) (*Manager, error) {
	cleanPath := filepath.Clean(path)
	mgr := &Manager{
		path:     cleanPath,
		logger:   log,
		onChange: onChange,
	}

	if path == "" {
		mgr.path = ""
		return mgr, nil
	}

	if err := mgr.reload(); err != nil {
		return nil, fmt.Errorf("load CA bundle %s: %w", cleanPath, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	mgr.watcher = watcher
	mgr.stopCh = make(chan struct{})
	mgr.doneCh = make(chan struct{})

	// Watch the directory, not the file: editors and secret mounts replace
	// the file, which would orphan a file-level watch.
	dir := filepath.Dir(cleanPath)
	if err := watcher.Add(dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			log.Warn("failed to close CA bundle watcher after add failure", "error", closeErr)
		}
		return nil, fmt.Errorf("watch directory %s: %w", dir, err)
	}

	go mgr.watchLoop()
	log.Info("LDAP CA bundle loaded", "path", cleanPath)
	return mgr, nil
}

// Path returns the configured bundle path ("" when none).
func (m *Manager) Path() string { return m.path }

// RootCAs returns the current certificate pool. Nil when no bundle is
// configured, which makes tls.Config fall back to system roots.
func (m *Manager) RootCAs() *x509.CertPool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool
}

// TLSConfig builds the tls.Config used for LDAP connections.
func (m *Manager) TLSConfig(skipVerify bool) *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if skipVerify {
		cfg.InsecureSkipVerify = true
	}
	if pool := m.RootCAs(); pool != nil {
		cfg.RootCAs = pool
	}
	return cfg
}

// ForceReload reloads the bundle from disk immediately.
func (m *Manager) ForceReload() error {
	if m.path == "" {
		return nil
	}
	return m.reload()
}

// Close stops the watcher and releases resources.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	close(m.stopCh)
	err := m.watcher.Close()
	<-m.doneCh
	return err
}

func (m *Manager) watchLoop() {
	defer close(m.doneCh)

	for {
		select {
		case event := <-m.watcher.Events:
			if !m.isRelevant(event) {
				continue
			}
			if err := m.reloadWithRetries(); err != nil {
				m.logger.Warn("LDAP CA bundle reload failed", "path", m.path, "error", err)
				continue
			}
			m.logger.Info("LDAP CA bundle reloaded", "path", m.path)
			if m.onChange != nil {
				m.onChange()
			}
		case err := <-m.watcher.Errors:
			m.logger.Warn("LDAP CA bundle watcher error", "error", err)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) isRelevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Clean(event.Name) == m.path
}

// reloadWithRetries absorbs the window where the file is being replaced and
// reads catch a half-written bundle.
func (m *Manager) reloadWithRetries() error {
	const (
		attempts = 5
		delay    = 200 * time.Millisecond
	)

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := m.reload(); err != nil {
			lastErr = err
			time.Sleep(delay)
			continue
		}
		return nil
	}
	return lastErr
}

func (m *Manager) reload() error {
	pool, err := loadBundle(m.path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.pool = pool
	m.mu.Unlock()
	return nil
}

// loadBundle parses the PEM bundle on top of the system pool, so a custom
// bundle extends rather than replaces the default trust store.
func loadBundle(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	rest := data
	added := false
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			if len(bytes.TrimSpace(rest)) == 0 {
				break
			}
			return nil, errInvalidPEMData
		}
		if block.Type != certificateBlockType {
			return nil, fmt.Errorf("%w: %s", errUnexpectedPEMBlock, block.Type)
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		pool.AddCert(cert)
		added = true
	}

	if !added {
		return nil, errNoCertificatesInPool
	}

	return pool, nil
}
