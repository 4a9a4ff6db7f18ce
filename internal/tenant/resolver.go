// Package tenant resolves which hotel an inbound request belongs to.
//
// Resolution order: a non-placeholder tenant claim from the bearer token, then
// the subdomain of the request host, then the configured default tenant.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/cache"
	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/repo"
)

// ErrTenantNotFound is returned when no tenant can be determined and no
// default is configured.
var ErrTenantNotFound = errors.New("tenant not found")

// Resolution sources.
const (
	SourceClaim     = "claim"
	SourceSubdomain = "subdomain"
	SourceDefault   = "default"
)

// reserved holds claim values that mean "no tenant".
var reserved = map[string]struct{}{
	"":          {},
	"default":   {},
	"none":      {},
	"undefined": {},
	"null":      {},
	"*":         {},
}

// IsPlaceholder reports whether a claimed tenant id is a reserved placeholder.
func IsPlaceholder(id string) bool {
	_, ok := reserved[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// Lookup is the tenant store the resolver reads from.
type Lookup interface {
	GetTenantBySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error)
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)
}

// Store adapts the repository functions to Lookup.
type Store struct{ DB *gorm.DB }

func (s Store) GetTenantBySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error) {
	return repo.GetTenantBySubdomain(ctx, s.DB, subdomain)
}

func (s Store) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	return repo.GetTenant(ctx, s.DB, id)
}

// Resolution is the outcome of Resolve. Anomaly is set when resolution fell
// back to the default tenant for a reason worth logging.
type Resolution struct {
	TenantID string
	Source   string
	Anomaly  string
}

// Options configures a Resolver.
type Options struct {
	BaseDomain    string        // e.g. "concierge.example.com"; optional
	DefaultTenant string        // used when nothing else resolves
	PositiveTTL   time.Duration // default 5m
	NegativeTTL   time.Duration // default 30s
}

// Resolver is safe for concurrent use.
type Resolver struct {
	lookup Lookup
	cache  *cache.Cache
	opts   Options
	log    zerolog.Logger
}

// lookupShard is the cache shard holding subdomain lookups.
const lookupShard = "_tenant_lookup"

type miss struct{}

// NewResolver builds a resolver. Lookups are cached in c.
func NewResolver(lookup Lookup, c *cache.Cache, opts Options, log zerolog.Logger) *Resolver {
	if opts.PositiveTTL <= 0 {
		opts.PositiveTTL = 5 * time.Minute
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = 30 * time.Second
	}
	opts.BaseDomain = strings.Trim(strings.ToLower(opts.BaseDomain), ".")
	return &Resolver{lookup: lookup, cache: c, opts: opts, log: log.With().Str("component", "tenant_resolver").Logger()}
}

// Resolve determines the tenant for a request to host carrying claimTenant
// (empty when unauthenticated).
func (r *Resolver) Resolve(ctx context.Context, host, claimTenant string) (Resolution, error) {
	if !IsPlaceholder(claimTenant) {
		return Resolution{TenantID: strings.TrimSpace(claimTenant), Source: SourceClaim}, nil
	}

	var anomaly string
	sub, ok := ParseSubdomain(host, r.opts.BaseDomain)
	if ok {
		t, err := r.bySubdomain(ctx, sub)
		switch {
		case err == nil && t != nil:
			return Resolution{TenantID: t.ID, Source: SourceSubdomain}, nil
		case err != nil:
			anomaly = fmt.Sprintf("subdomain lookup failed for %q: %v", sub, err)
		default:
			anomaly = fmt.Sprintf("unknown subdomain %q", sub)
		}
	} else {
		anomaly = fmt.Sprintf("no tenant subdomain in host %q", host)
	}

	if r.opts.DefaultTenant == "" {
		return Resolution{Anomaly: anomaly}, ErrTenantNotFound
	}
	return Resolution{TenantID: r.opts.DefaultTenant, Source: SourceDefault, Anomaly: anomaly}, nil
}

// bySubdomain returns nil, nil for an unknown subdomain.
func (r *Resolver) bySubdomain(ctx context.Context, sub string) (*domain.Tenant, error) {
	key := "subdomain:" + sub
	if v, ok := r.cache.Get(lookupShard, key); ok {
		t, _ := v.(*domain.Tenant)
		return t, nil
	}
	t, err := r.lookup.GetTenantBySubdomain(ctx, sub)
	if errors.Is(err, repo.ErrNotFound) {
		r.cache.Set(lookupShard, key, miss{}, r.opts.NegativeTTL)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.cache.Set(lookupShard, key, t, r.opts.PositiveTTL)
	return t, nil
}

// MaxConnections returns the tenant's realtime connection cap, or 0 when the
// tenant is unknown or uncapped.
func (r *Resolver) MaxConnections(tenantID string) int {
	v, err := r.cache.GetOrLoad(lookupShard, "id:"+tenantID, r.opts.PositiveTTL, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		t, err := r.lookup.GetTenant(ctx, tenantID)
		if errors.Is(err, repo.ErrNotFound) {
			return miss{}, nil
		}
		return t, err
	})
	if err != nil {
		r.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("tenant limit lookup failed")
		return 0
	}
	if t, ok := v.(*domain.Tenant); ok {
		return t.MaxConnections
	}
	return 0
}

// ParseSubdomain extracts the tenant label from host. With a base domain the
// label directly in front of it is used; otherwise the first label of a host
// with at least three labels. Ports, IP addresses, "www" and "localhost" never
// yield a subdomain.
func ParseSubdomain(host, baseDomain string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" || net.ParseIP(strings.Trim(host, "[]")) != nil {
		return "", false
	}

	var label string
	if baseDomain != "" && strings.HasSuffix(host, "."+baseDomain) {
		rest := strings.TrimSuffix(host, "."+baseDomain)
		parts := strings.Split(rest, ".")
		label = parts[len(parts)-1]
	} else {
		parts := strings.Split(host, ".")
		if len(parts) < 3 {
			return "", false
		}
		label = parts[0]
	}
	if label == "" || label == "www" || label == "localhost" {
		return "", false
	}
	return label, true
}
