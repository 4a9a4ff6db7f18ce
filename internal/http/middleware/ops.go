package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderOpsToken carries the operator credential for /ops routes.
const HeaderOpsToken = "X-Ops-Token"

// OpsAuth admits requests whose X-Ops-Token matches token. Ops views span
// every tenant, so a tenant's bearer token is not enough. With an empty token
// every request is refused.
func OpsAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderOpsToken))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			reject(c, http.StatusForbidden, "forbidden", "ops credential required")
			return
		}
		c.Next()
	}
}
