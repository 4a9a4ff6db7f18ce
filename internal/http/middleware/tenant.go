package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-concierge-backend/internal/observability"
	"github.com/tbourn/go-concierge-backend/internal/tenant"
)

const tenantIDKey = "tenantID"

// TenantResolver is satisfied by *tenant.Resolver.
type TenantResolver interface {
	Resolve(ctx context.Context, host, claimTenant string) (tenant.Resolution, error)
}

// TenantOptions configures Tenant.
type TenantOptions struct {
	// Secret verifies HS256 bearer tokens. Without it the Authorization
	// header is ignored and resolution starts at the hostname.
	Secret []byte
	// QueryToken also accepts ?access_token= (browsers cannot set headers on
	// a WebSocket handshake).
	QueryToken bool
}

// Tenant resolves the tenant of the request and stores its id under
// "tenantID". An invalid bearer token is rejected with 401. When nothing
// resolves and no default tenant exists the request fails with 400
// tenant_unresolved.
func Tenant(res TenantResolver, opts TenantOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var claim string
		if tok := bearer(c, opts.QueryToken); tok != "" && len(opts.Secret) > 0 {
			claims, err := tenant.ParseClaims(tok, opts.Secret)
			if err != nil {
				reject(c, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}
			claim = claims.TenantID
		}

		r, err := res.Resolve(c.Request.Context(), c.Request.Host, claim)
		lg := LoggerFrom(c)
		if r.Anomaly != "" {
			lg.Warn().Str("host", c.Request.Host).Str("anomaly", r.Anomaly).Msg("tenant resolution anomaly")
		}
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, tenant.ErrTenantNotFound) {
				status = http.StatusBadRequest
			}
			reject(c, status, "tenant_unresolved", "could not determine tenant")
			return
		}

		c.Set(tenantIDKey, r.TenantID)
		observability.TagTenant(c.Request.Context(), r.TenantID, r.Source)
		setLogger(c, lg.With().Str("tenant_id", r.TenantID).Str("tenant_source", r.Source).Logger())
		c.Next()
	}
}

// TenantFrom returns the tenant id stored by Tenant.
func TenantFrom(c *gin.Context) string {
	v, _ := c.Get(tenantIDKey)
	return asString(v)
}

// WithTenant stores id as the request's tenant. Tests and internal callers
// use it to bypass resolution.
func WithTenant(c *gin.Context, id string) {
	c.Set(tenantIDKey, id)
}

func bearer(c *gin.Context, allowQuery bool) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if allowQuery {
		return c.Query("access_token")
	}
	return ""
}
