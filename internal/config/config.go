package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by SMARTMARK_BACKEND.
const (
	BackendSupabase = "supabase"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	ListenPort      string        `yaml:"listen_port"`      // ex: ":8080"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // ex: 5s
	PublicURL       string        `yaml:"public_url"`       // ex: https://marks.domain.ext (OAuth redirect base)

	LogLevel  string `yaml:"log_level"`  // "debug" | "info" | "warn" | "error"
	PrettyLog bool   `yaml:"pretty_log"` // true => zap dev (color), false => zap prod (JSON)

	Backend        string        `yaml:"backend"`         // "supabase" | "redis" | "memory"
	OAuthProvider  string        `yaml:"oauth_provider"`  // ex: "google"
	BookmarksTable string        `yaml:"bookmarks_table"` // remote table / key namespace
	RemoteTimeout  time.Duration `yaml:"remote_timeout"`  // per remote call deadline
	SweepInterval  time.Duration `yaml:"sweep_interval"`  // backend housekeeping period

	// Supabase
	SupabaseURL       string        `yaml:"supabase_url"`       // ex: https://xyz.supabase.co
	SupabaseAnonKey   string        `yaml:"supabase_anon_key"`  // public anon key
	SupabaseSchema    string        `yaml:"supabase_schema"`    // ex: public
	RealtimeHeartbeat time.Duration `yaml:"realtime_heartbeat"` // phoenix heartbeat period
	RealtimeJoinWait  time.Duration `yaml:"realtime_join_wait"` // max wait for phx_join reply
	RealtimeRetry     time.Duration `yaml:"realtime_retry"`     // initial reconnect wait, doubles up to RealtimeMaxWait
	RealtimeMaxWait   time.Duration `yaml:"realtime_max_wait"`

	// Local token verification (redis/memory backends)
	JWTSecret    string        `yaml:"jwt_secret"`
	DevUserID    string        `yaml:"dev_user_id"`
	DevUserEmail string        `yaml:"dev_user_email"`
	DevUserName  string        `yaml:"dev_user_name"`
	DevTokenTTL  time.Duration `yaml:"dev_token_ttl"`

	// Redis
	RedisAddr           string        `yaml:"redis_addr"` // ex: "localhost:6379"
	RedisUser           string        `yaml:"redis_user"`
	RedisPassword       string        `yaml:"redis_password"`
	RedisDB             int           `yaml:"redis_db"`
	RedisDT             time.Duration `yaml:"redis_dial_timeout"`
	RedisRT             time.Duration `yaml:"redis_read_timeout"`
	RedisWT             time.Duration `yaml:"redis_write_timeout"`
	RedisPoolSize       int           `yaml:"redis_pool_size"`
	RedisConnectTimeout time.Duration `yaml:"redis_connect_timeout"` // total time to retry connecting
	RedisRetryInterval  time.Duration `yaml:"redis_retry_interval"`  // grows exponentially
	RedisMaxWait        time.Duration `yaml:"redis_max_wait"`
	RedisPingTimeout    time.Duration `yaml:"redis_ping_timeout"`
	RedisWarnThreshold  int           `yaml:"redis_warn_threshold"`

	// Circuit breaker around every remote call
	BreakerMaxRequests  uint32        `yaml:"breaker_max_requests"`
	BreakerInterval     time.Duration `yaml:"breaker_interval"`
	BreakerTimeout      time.Duration `yaml:"breaker_timeout"`
	BreakerFailureRatio float64       `yaml:"breaker_failure_ratio"`
	BreakerMinRequests  uint32        `yaml:"breaker_min_requests"`

	// HTTP surface
	AllowedHosts    []string `yaml:"allowed_hosts"`   // websocket origins; supports *.domain.ext
	AllowedOrigins  []string `yaml:"allowed_origins"` // CORS origins for /api
	AllowedCIDRS    []string `yaml:"allowed_cidrs"`   // ops endpoints (readyz, infra, metrics)
	TrustProxy      bool     `yaml:"trust_proxy"`     // true => trust X-Forwarded-For headers
	CookieSecure    bool     `yaml:"cookie_secure"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
}

// Load builds the configuration: defaults, then the optional YAML file named by
// SMARTMARK_CONFIG_FILE, then environment variables. Invalid setups panic.
func Load() *Config {
	cfg := defaults()

	if path := os.Getenv("SMARTMARK_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			panic(fmt.Sprintf("❌ FATAL: %v", err))
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("❌ FATAL: %v", err))
	}

	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

func defaults() *Config {
	return &Config{
		ListenPort:      ":8080",
		ShutdownTimeout: 5 * time.Second,
		PublicURL:       "http://localhost:8080",

		LogLevel:  "info",
		PrettyLog: true,

		Backend:        BackendSupabase,
		OAuthProvider:  "google",
		BookmarksTable: "bookmarks",
		RemoteTimeout:  10 * time.Second,
		SweepInterval:  10 * time.Minute,

		SupabaseSchema:    "public",
		RealtimeHeartbeat: 25 * time.Second,
		RealtimeJoinWait:  10 * time.Second,
		RealtimeRetry:     time.Second,
		RealtimeMaxWait:   30 * time.Second,

		DevUserID:    "00000000-0000-0000-0000-000000000001",
		DevUserEmail: "dev@localhost",
		DevUserName:  "Dev User",
		DevTokenTTL:  12 * time.Hour,

		RedisUser:           "default",
		RedisDT:             5 * time.Second,
		RedisRT:             3 * time.Second,
		RedisWT:             3 * time.Second,
		RedisPoolSize:       10,
		RedisConnectTimeout: 30 * time.Second,
		RedisRetryInterval:  2 * time.Second,
		RedisMaxWait:        10 * time.Second,
		RedisPingTimeout:    5 * time.Second,
		RedisWarnThreshold:  3,

		BreakerMaxRequests:  5,
		BreakerInterval:     30 * time.Second,
		BreakerTimeout:      30 * time.Second,
		BreakerFailureRatio: 0.8,
		BreakerMinRequests:  5,

		TrustProxy:      true,
		RateLimitBurst:  30,
		RateLimitPerMin: 120,
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ListenPort = getenv("SMARTMARK_LISTEN_PORT", cfg.ListenPort)
	cfg.ShutdownTimeout = mustDuration("SMARTMARK_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.PublicURL = strings.TrimRight(getenv("SMARTMARK_PUBLIC_URL", cfg.PublicURL), "/")

	cfg.LogLevel = getenv("SMARTMARK_LOG_LEVEL", cfg.LogLevel)
	cfg.PrettyLog = mustBool("SMARTMARK_PRETTY_LOG", cfg.PrettyLog)

	cfg.Backend = strings.ToLower(getenv("SMARTMARK_BACKEND", cfg.Backend))
	cfg.OAuthProvider = getenv("SMARTMARK_OAUTH_PROVIDER", cfg.OAuthProvider)
	cfg.BookmarksTable = getenv("SMARTMARK_BOOKMARKS_TABLE", cfg.BookmarksTable)
	cfg.RemoteTimeout = mustDuration("SMARTMARK_REMOTE_TIMEOUT", cfg.RemoteTimeout)
	cfg.SweepInterval = mustDuration("SMARTMARK_SWEEP_INTERVAL", cfg.SweepInterval)

	cfg.SupabaseURL = strings.TrimRight(getenv("SUPABASE_URL", cfg.SupabaseURL), "/")
	cfg.SupabaseAnonKey = getenv("SUPABASE_ANON_KEY", cfg.SupabaseAnonKey)
	cfg.SupabaseSchema = getenv("SUPABASE_SCHEMA", cfg.SupabaseSchema)
	cfg.RealtimeHeartbeat = mustDuration("SMARTMARK_REALTIME_HEARTBEAT", cfg.RealtimeHeartbeat)
	cfg.RealtimeJoinWait = mustDuration("SMARTMARK_REALTIME_JOIN_WAIT", cfg.RealtimeJoinWait)
	cfg.RealtimeRetry = mustDuration("SMARTMARK_REALTIME_RETRY", cfg.RealtimeRetry)
	cfg.RealtimeMaxWait = mustDuration("SMARTMARK_REALTIME_MAX_WAIT", cfg.RealtimeMaxWait)

	cfg.JWTSecret = getenv("SMARTMARK_JWT_SECRET", cfg.JWTSecret)
	cfg.DevUserID = getenv("SMARTMARK_DEV_USER_ID", cfg.DevUserID)
	cfg.DevUserEmail = getenv("SMARTMARK_DEV_USER_EMAIL", cfg.DevUserEmail)
	cfg.DevUserName = getenv("SMARTMARK_DEV_USER_NAME", cfg.DevUserName)
	cfg.DevTokenTTL = mustDuration("SMARTMARK_DEV_TOKEN_TTL", cfg.DevTokenTTL)

	cfg.RedisAddr = getenv("SMARTMARK_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisUser = getenv("SMARTMARK_REDIS_USERNAME", cfg.RedisUser)
	cfg.RedisPassword = getenv("SMARTMARK_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getenvInt("SMARTMARK_REDIS_DB", cfg.RedisDB)
	cfg.RedisDT = mustDuration("REDIS_DIAL_TIMEOUT", cfg.RedisDT)
	cfg.RedisRT = mustDuration("REDIS_READ_TIMEOUT", cfg.RedisRT)
	cfg.RedisWT = mustDuration("REDIS_WRITE_TIMEOUT", cfg.RedisWT)
	cfg.RedisPoolSize = getenvInt("REDIS_POOL_SIZE", cfg.RedisPoolSize)
	cfg.RedisConnectTimeout = mustDuration("REDIS_CONNECT_TIMEOUT", cfg.RedisConnectTimeout)
	cfg.RedisRetryInterval = mustDuration("REDIS_RETRY_INTERVAL", cfg.RedisRetryInterval)
	cfg.RedisMaxWait = mustDuration("REDIS_MAX_WAIT", cfg.RedisMaxWait)
	cfg.RedisPingTimeout = mustDuration("REDIS_PING_TIMEOUT", cfg.RedisPingTimeout)
	cfg.RedisWarnThreshold = getenvInt("REDIS_WARN_THRESHOLD", cfg.RedisWarnThreshold)

	cfg.BreakerMaxRequests = uint32(getenvInt("SMARTMARK_BREAKER_MAX_REQUESTS", int(cfg.BreakerMaxRequests)))
	cfg.BreakerInterval = mustDuration("SMARTMARK_BREAKER_INTERVAL", cfg.BreakerInterval)
	cfg.BreakerTimeout = mustDuration("SMARTMARK_BREAKER_TIMEOUT", cfg.BreakerTimeout)
	cfg.BreakerFailureRatio = getenvFloat("SMARTMARK_BREAKER_FAILURE_RATIO", cfg.BreakerFailureRatio)
	cfg.BreakerMinRequests = uint32(getenvInt("SMARTMARK_BREAKER_MIN_REQUESTS", int(cfg.BreakerMinRequests)))

	cfg.AllowedHosts = getenvSlice("SMARTMARK_ALLOWED_HOSTS", cfg.AllowedHosts)
	cfg.AllowedOrigins = getenvSlice("SMARTMARK_ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.AllowedCIDRS = getenvSlice("SMARTMARK_ALLOWED_CIDRS", cfg.AllowedCIDRS)
	cfg.TrustProxy = mustBool("SMARTMARK_TRUST_PROXY", cfg.TrustProxy)
	cfg.CookieSecure = mustBool("SMARTMARK_COOKIE_SECURE", cfg.CookieSecure || strings.HasPrefix(cfg.PublicURL, "https://"))
	cfg.RateLimitBurst = getenvInt("SMARTMARK_RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.RateLimitPerMin = getenvInt("SMARTMARK_RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin)
}

// Validate checks the backend-specific requirements.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_ANON_KEY are required for the %s backend", c.Backend)
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("SMARTMARK_REDIS_ADDR is required for the %s backend", c.Backend)
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("SMARTMARK_JWT_SECRET is required for the %s backend", c.Backend)
		}
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required for the %s backend (OAuth provider)", c.Backend)
		}
	case BackendMemory:
		if c.JWTSecret == "" {
			return fmt.Errorf("SMARTMARK_JWT_SECRET is required for the %s backend", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q (want supabase, redis or memory)", c.Backend)
	}

	if c.BookmarksTable == "" {
		return fmt.Errorf("bookmarks table must not be empty")
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote timeout must be > 0, got %v", c.RemoteTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be > 0, got %v", c.SweepInterval)
	}
	for name, d := range map[string]time.Duration{
		"realtime heartbeat": c.RealtimeHeartbeat,
		"realtime join wait": c.RealtimeJoinWait,
		"realtime retry":     c.RealtimeRetry,
		"realtime max wait":  c.RealtimeMaxWait,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", name, d)
		}
	}
	if c.RealtimeMaxWait < c.RealtimeRetry {
		return fmt.Errorf("realtime max wait (%v) must be >= realtime retry (%v)", c.RealtimeMaxWait, c.RealtimeRetry)
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("breaker failure ratio must be in (0,1], got %v", c.BreakerFailureRatio)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.RedisPassword != "" {
		cp.RedisPassword = "***REDACTED***"
	}
	if cp.JWTSecret != "" {
		cp.JWTSecret = "***REDACTED***"
	}
	if cp.SupabaseAnonKey != "" {
		cp.SupabaseAnonKey = "***REDACTED***"
	}
	return cp
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		return splitAndTrim(v)
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
