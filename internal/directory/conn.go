package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/authgrid/ldap-admin/internal/models"
)

// Conn abstracts the LDAP wire operations the client needs. It is a subset
// of *ldap.Conn, kept narrow so tests can substitute a fake.
type Conn interface {
	Bind(username, password string) error
	UnauthenticatedBind(username string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	IsClosing() bool
	Close() error
}

var _ Conn = (*ldap.Conn)(nil)

// Dialer produces connections for one plugin. The production dialer speaks
// ldap://, ldaps:// and ldapi:// per the plugin's server URI; tests install
// their own.
type Dialer interface {
	Dial(ctx context.Context, plugin *models.LDAPPlugin) (Conn, error)
}

// DialerFunc makes it easy to use a func as a Dialer.
type DialerFunc func(ctx context.Context, plugin *models.LDAPPlugin) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, plugin *models.LDAPPlugin) (Conn, error) {
	return f(ctx, plugin)
}

// netDialer dials per the plugin's server URI. TLS material (CA bundle) is
// pulled through the tlsConfig callback at dial time so a reloaded bundle
// applies to the next connection without restarting.
type netDialer struct {
	tlsConfig      func() *tls.Config
	connectTimeout time.Duration
	requestTimeout time.Duration
}

func (d *netDialer) Dial(ctx context.Context, plugin *models.LDAPPlugin) (Conn, error) {
	u, err := url.Parse(plugin.ServerURI)
	if err != nil {
		return nil, fmt.Errorf("invalid server URI %q: %w", plugin.ServerURI, err)
	}

	var tlsCfg *tls.Config
	if d.tlsConfig != nil {
		tlsCfg = d.tlsConfig()
	}

	opts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: d.connectTimeout}),
	}
	if u.Scheme == "ldaps" {
		opts = append(opts, ldap.DialWithTLSConfig(tlsCfg))
	}

	conn, err := ldap.DialURL(plugin.ServerURI, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", plugin.ServerURI, err)
	}

	if plugin.StartTLS {
		if err := conn.StartTLS(tlsCfg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("StartTLS with %s failed: %w", plugin.ServerURI, err)
		}
	}

	conn.SetTimeout(d.requestTimeout)
	return conn, nil
}
