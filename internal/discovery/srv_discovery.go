// Package discovery resolves directory servers from DNS SRV records, the
// form Active Directory and most OpenLDAP deployments use to publish their
// servers (_ldap._tcp.<domain>, _ldaps._tcp.<domain>).
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/authgrid/ldap-admin/pkg/logger"
)

const lookupTimeout = 5 * time.Second

// Resolver is the DNS surface the discoverer needs; net.DefaultResolver
// satisfies it and tests install a fake.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// Server is one discovered directory server. Results are ordered by SRV
// priority, then descending weight, so the first entry is the one the
// domain operator wants clients to prefer.
type Server struct {
	URI      string `json:"uri"`
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Priority uint16 `json:"priority"`
	Weight   uint16 `json:"weight"`
	TLS      bool   `json:"tls"`
}

type Discoverer struct {
	resolver Resolver
	logger   logger.Logger
}

func New(log logger.Logger) *Discoverer {
	return &Discoverer{
		resolver: net.DefaultResolver,
		logger:   log,
	}
}

// Discover queries the _ldap._tcp and _ldaps._tcp SRV records of domain and
// returns the advertised servers. A domain that answers neither query yields
// an error; a domain that answers one but not the other is normal.
func (d *Discoverer) Discover(ctx context.Context, domain string) ([]Server, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if domain == "" {
		return nil, errors.New("domain is required")
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var (
		servers []Server
		errs    []error
	)
	for _, svc := range []struct {
		service string
		tls     bool
	}{
		{"ldap", false},
		{"ldaps", true},
	} {
		_, addrs, err := d.resolver.LookupSRV(ctx, svc.service, "tcp", domain)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, addr := range addrs {
			host := strings.TrimSuffix(addr.Target, ".")
			if host == "" {
				// a lone "." target is the RFC 2782 way of saying
				// "this service is not offered here"
				continue
			}
			scheme := "ldap"
			if svc.tls {
				scheme = "ldaps"
			}
			servers = append(servers, Server{
				URI:      fmt.Sprintf("%s://%s:%d", scheme, host, addr.Port),
				Host:     host,
				Port:     addr.Port,
				Priority: addr.Priority,
				Weight:   addr.Weight,
				TLS:      svc.tls,
			})
		}
	}

	if len(servers) == 0 && len(errs) > 0 {
		d.logger.Warn("SRV discovery found no directory servers", "domain", domain, "error", errs[0])
		return nil, fmt.Errorf("no SRV records for %q: %w", domain, errs[0])
	}

	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority < servers[j].Priority
		}
		if servers[i].Weight != servers[j].Weight {
			return servers[i].Weight > servers[j].Weight
		}
		return servers[i].URI < servers[j].URI
	})

	return dedupe(servers), nil
}

func dedupe(servers []Server) []Server {
	seen := make(map[string]struct{}, len(servers))
	out := servers[:0]
	for _, s := range servers {
		if _, ok := seen[s.URI]; ok {
			continue
		}
		seen[s.URI] = struct{}{}
		out = append(out, s)
	}
	return out
}
