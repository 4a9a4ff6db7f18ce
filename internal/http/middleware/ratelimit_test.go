package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestKeyByTenantOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.1.2.3:5555"

	fn := KeyByTenantOrIP()
	if got := fn(c); got != "ip:10.1.2.3" {
		t.Fatalf("before tenant: %q", got)
	}
	WithTenant(c, "hotel-a")
	if got := fn(c); got != "tenant:hotel-a" {
		t.Fatalf("after tenant: %q", got)
	}
}

func limitedRouter(rl *RateLimiter, bypass bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if bypass {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestRateLimiter_429AfterBurst(t *testing.T) {
	rl := NewRateLimiter(0.0001, 2, func(*gin.Context) string { return "k" })
	r := limitedRouter(rl, false)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests && w.Header().Get("Retry-After") != "1" {
			t.Fatal("missing Retry-After")
		}
	}
	if codes[0] != 204 || codes[1] != 204 || codes[2] != 429 {
		t.Fatalf("codes = %v", codes)
	}
}

func TestRateLimiter_ReplayBypasses(t *testing.T) {
	rl := NewRateLimiter(0.0001, 1, func(*gin.Context) string { return "k" })
	r := limitedRouter(rl, true)
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("request %d limited: %d", i, w.Code)
		}
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1, nil)
	rl.now = func() time.Time { return now }

	rl.limiter("old")
	now = now.Add(6 * time.Minute)
	rl.limiter("fresh")
	now = now.Add(5 * time.Minute)

	if n := rl.Sweep(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := rl.visitors["fresh"]; !ok {
		t.Fatal("fresh bucket dropped")
	}
	if _, ok := rl.visitors["old"]; ok {
		t.Fatal("old bucket kept")
	}
}
