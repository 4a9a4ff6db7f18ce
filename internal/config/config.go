// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, tenancy, storage, the summary model, caching, realtime limits, rate
// limiting and observability. A .env file, when present, is loaded by the
// entrypoint before Load runs.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-concierge-backend/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-concierge-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// TenancyConfig controls how requests are mapped to hotels.
type TenancyConfig struct {
	BaseDomain      string // BASE_DOMAIN, e.g. "concierge.example.com"
	DefaultTenant   string // DEFAULT_TENANT; empty disables the fallback
	JWTSecret       string // JWT_SECRET for HS256 bearer tokens; empty ignores tokens
	QueryToken      bool   // WS_QUERY_TOKEN: accept ?access_token= on the realtime handshake
	PositiveTTL     time.Duration
	NegativeTTL     time.Duration
	DefaultMaxConns int // TENANT_MAX_CONNECTIONS when a tenant row leaves it at 0
}

// LLMConfig selects the OpenAI-compatible summary model. Without an API key
// the service runs on fallback summaries only.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// SummaryConfig bounds summary generation.
type SummaryConfig struct {
	MinTurns           int
	MaxTranscriptRunes int
	Retries            int
	AbandonAfter       time.Duration
	DefaultLocale      string
}

// RedisConfig enables the cross-instance event relay when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RealtimeConfig bounds the realtime channel.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration
	MaxMissed         int
	MaxConnections    int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBDriver string // sqlite|mysql
	DBDSN    string // SQLite path or MySQL DSN

	// Tenancy
	Tenancy TenancyConfig

	// Summary pipeline
	LLM            LLMConfig
	Summary        SummaryConfig
	CategoriesPath string  // optional markdown catalog; built-in catalog otherwise
	Threshold      float64 // category match threshold [0,1]

	// Dashboard cache
	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	// Realtime
	Realtime RealtimeConfig
	Redis    RedisConfig

	// Background jobs
	ReconcileInterval time.Duration // 0 disables the mirror reconciler
	StaleCallAfter    time.Duration // CALL_STALE_AFTER; 0 never fails silent calls

	// Ops
	OpsEnabled bool   // expose /ops/* diagnostics
	OpsToken   string // OPS_TOKEN; required in X-Ops-Token, empty locks /ops/*

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBDriver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBDSN:    sysutil.FirstNonEmpty(os.Getenv("DB_DSN"), os.Getenv("DB_PATH"), "concierge.db"),

		// Tenancy
		Tenancy: TenancyConfig{
			BaseDomain:      strings.ToLower(strings.TrimSpace(getenv("BASE_DOMAIN", ""))),
			DefaultTenant:   strings.TrimSpace(getenv("DEFAULT_TENANT", "")),
			JWTSecret:       getenv("JWT_SECRET", ""),
			QueryToken:      getbool("WS_QUERY_TOKEN", true),
			PositiveTTL:     getdur("TENANT_CACHE_TTL", 5*time.Minute),
			NegativeTTL:     getdur("TENANT_NEGATIVE_TTL", 30*time.Second),
			DefaultMaxConns: getint("TENANT_MAX_CONNECTIONS", 0),
		},

		// Summary pipeline
		LLM: LLMConfig{
			BaseURL: getenv("LLM_BASE_URL", ""),
			APIKey:  getenv("LLM_API_KEY", ""),
			Model:   getenv("LLM_MODEL", "gpt-4o-mini"),
			Timeout: getdur("LLM_TIMEOUT", 8*time.Second),
		},
		Summary: SummaryConfig{
			MinTurns:           getint("SUMMARY_MIN_TURNS", 2),
			MaxTranscriptRunes: getint("SUMMARY_MAX_TRANSCRIPT_RUNES", 12000),
			Retries:            getint("SUMMARY_RETRIES", 1),
			AbandonAfter:       getdur("SUMMARY_ABANDON_AFTER", 2*time.Minute),
			DefaultLocale:      getenv("DEFAULT_LOCALE", "en"),
		},
		CategoriesPath: getenv("CATEGORIES_PATH", ""),
		Threshold:      getfloat("THRESHOLD", 0.2),

		// Dashboard cache
		CacheTTL:           getdur("CACHE_TTL", 30*time.Second),
		CacheSweepInterval: getdur("CACHE_SWEEP_INTERVAL", time.Minute),

		// Realtime
		Realtime: RealtimeConfig{
			HeartbeatInterval: getdur("WS_HEARTBEAT_INTERVAL", 30*time.Second),
			MaxMissed:         getint("WS_MAX_MISSED", 2),
			MaxConnections:    getint("WS_MAX_CONNECTIONS", 1000),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
			Channel:  getenv("REDIS_CHANNEL", "concierge:realtime:events"),
		},

		// Background jobs
		ReconcileInterval: getdur("RECONCILE_INTERVAL", 5*time.Minute),
		StaleCallAfter:    getdur("CALL_STALE_AFTER", 2*time.Hour),

		// Ops
		OpsEnabled: getbool("OPS_ENABLED", true),
		OpsToken:   getenv("OPS_TOKEN", ""),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-concierge-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite", "mysql":
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, mysql")
	}
	if strings.TrimSpace(cfg.DBDSN) == "" {
		return cfg, errors.New("DB_DSN must not be empty")
	}
	if cfg.Tenancy.PositiveTTL <= 0 || cfg.Tenancy.NegativeTTL <= 0 {
		return cfg, errors.New("TENANT_CACHE_TTL and TENANT_NEGATIVE_TTL must be > 0")
	}
	if cfg.LLM.Timeout <= 0 {
		return cfg, errors.New("LLM_TIMEOUT must be > 0")
	}
	if cfg.Summary.MinTurns < 0 || cfg.Summary.MaxTranscriptRunes <= 0 {
		return cfg, errors.New("SUMMARY_MIN_TURNS must be >= 0 and SUMMARY_MAX_TRANSCRIPT_RUNES > 0")
	}
	if cfg.CacheTTL <= 0 || cfg.CacheSweepInterval <= 0 {
		return cfg, errors.New("CACHE_TTL and CACHE_SWEEP_INTERVAL must be > 0")
	}
	if cfg.Realtime.HeartbeatInterval <= 0 || cfg.Realtime.MaxMissed < 1 || cfg.Realtime.MaxConnections < 1 {
		return cfg, errors.New("WS_HEARTBEAT_INTERVAL must be > 0, WS_MAX_MISSED and WS_MAX_CONNECTIONS >= 1")
	}
	if cfg.ReconcileInterval < 0 || cfg.StaleCallAfter < 0 {
		return cfg, errors.New("RECONCILE_INTERVAL and CALL_STALE_AFTER must be >= 0")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return cfg, errors.New("THRESHOLD must be between 0 and 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
