package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{name: "empty", in: "", expected: nil},
		{name: "single", in: "marks.domain.ext", expected: []string{"marks.domain.ext"}},
		{name: "spaces and quotes", in: ` "a.ext" , 'b.ext',, c.ext `, expected: []string{"a.ext", "b.ext", "c.ext"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitAndTrim(tt.in)
			if len(result) != len(tt.expected) {
				t.Fatalf("splitAndTrim() length = %v, want %v", len(result), len(tt.expected))
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("splitAndTrim()[%d] = %v, want %v", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{
			name:     "valid duration",
			key:      "TEST_DURATION",
			value:    "5s",
			def:      1 * time.Second,
			expected: 5 * time.Second,
		},
		{
			name:     "invalid duration uses default",
			key:      "TEST_DURATION_INVALID",
			value:    "invalid",
			def:      10 * time.Second,
			expected: 10 * time.Second,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_DURATION_MISSING",
			value:    "",
			def:      15 * time.Second,
			expected: 15 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}

			result := mustDuration(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustDuration() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMustBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      bool
		expected bool
	}{
		{name: "true value", key: "TEST_BOOL", value: "true", def: false, expected: true},
		{name: "false value", key: "TEST_BOOL_FALSE", value: "false", def: true, expected: false},
		{name: "invalid value uses default", key: "TEST_BOOL_INVALID", value: "invalid", def: true, expected: true},
		{name: "missing variable uses default", key: "TEST_BOOL_MISSING", value: "", def: false, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}

			result := mustBool(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustBool() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestGetenvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.5")
	if got := getenvFloat("TEST_FLOAT", 0.8); got != 0.5 {
		t.Errorf("getenvFloat() = %v, want 0.5", got)
	}
	t.Setenv("TEST_FLOAT_BAD", "half")
	if got := getenvFloat("TEST_FLOAT_BAD", 0.8); got != 0.8 {
		t.Errorf("getenvFloat() with invalid value = %v, want 0.8", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name: "supabase ok",
			mutate: func(c *Config) {
				c.SupabaseURL = "https://xyz.supabase.co"
				c.SupabaseAnonKey = "anon"
			},
		},
		{
			name:    "supabase missing key",
			mutate:  func(c *Config) { c.SupabaseURL = "https://xyz.supabase.co" },
			wantErr: "SUPABASE_ANON_KEY",
		},
		{
			name: "redis requires jwt secret",
			mutate: func(c *Config) {
				c.Backend = BackendRedis
				c.RedisAddr = "localhost:6379"
				c.SupabaseURL = "https://xyz.supabase.co"
			},
			wantErr: "SMARTMARK_JWT_SECRET",
		},
		{
			name: "memory ok",
			mutate: func(c *Config) {
				c.Backend = BackendMemory
				c.JWTSecret = "secret"
			},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "sqlite" },
			wantErr: "unknown backend",
		},
		{
			name: "bad breaker ratio",
			mutate: func(c *Config) {
				c.Backend = BackendMemory
				c.JWTSecret = "secret"
				c.BreakerFailureRatio = 1.5
			},
			wantErr: "failure ratio",
		},
		{
			name: "zero realtime heartbeat",
			mutate: func(c *Config) {
				c.SupabaseURL = "https://xyz.supabase.co"
				c.SupabaseAnonKey = "anon"
				c.RealtimeHeartbeat = 0
			},
			wantErr: "realtime heartbeat",
		},
		{
			name: "zero realtime join wait",
			mutate: func(c *Config) {
				c.SupabaseURL = "https://xyz.supabase.co"
				c.SupabaseAnonKey = "anon"
				c.RealtimeJoinWait = 0
			},
			wantErr: "realtime join wait",
		},
		{
			name: "zero realtime retry",
			mutate: func(c *Config) {
				c.SupabaseURL = "https://xyz.supabase.co"
				c.SupabaseAnonKey = "anon"
				c.RealtimeRetry = 0
			},
			wantErr: "realtime retry",
		},
		{
			name: "negative realtime max wait",
			mutate: func(c *Config) {
				c.SupabaseURL = "https://xyz.supabase.co"
				c.SupabaseAnonKey = "anon"
				c.RealtimeMaxWait = -time.Second
			},
			wantErr: "realtime max wait",
		},
		{
			name: "realtime max wait below retry",
			mutate: func(c *Config) {
				c.SupabaseURL = "https://xyz.supabase.co"
				c.SupabaseAnonKey = "anon"
				c.RealtimeRetry = 10 * time.Second
				c.RealtimeMaxWait = time.Second
			},
			wantErr: "must be >= realtime retry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smartmark.yaml")
	content := `
backend: memory
jwt_secret: from-file
remote_timeout: 3s
bookmarks_table: marks
allowed_hosts:
  - marks.domain.ext
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("SMARTMARK_CONFIG_FILE", path)
	t.Setenv("SMARTMARK_JWT_SECRET", "from-env")
	t.Setenv("SMARTMARK_PUBLIC_URL", "https://marks.domain.ext/")

	cfg := Load()

	if cfg.Backend != BackendMemory {
		t.Errorf("Backend = %v, want %v", cfg.Backend, BackendMemory)
	}
	if cfg.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %v, want env value to win", cfg.JWTSecret)
	}
	if cfg.RemoteTimeout != 3*time.Second {
		t.Errorf("RemoteTimeout = %v, want 3s", cfg.RemoteTimeout)
	}
	if cfg.BookmarksTable != "marks" {
		t.Errorf("BookmarksTable = %v, want marks", cfg.BookmarksTable)
	}
	if len(cfg.AllowedHosts) != 1 || cfg.AllowedHosts[0] != "marks.domain.ext" {
		t.Errorf("AllowedHosts = %v, want [marks.domain.ext]", cfg.AllowedHosts)
	}
	if cfg.PublicURL != "https://marks.domain.ext" {
		t.Errorf("PublicURL = %v, want trailing slash trimmed", cfg.PublicURL)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should default to true for an https public URL")
	}
}

func TestLoadPanicsOnInvalidBackend(t *testing.T) {
	t.Setenv("SMARTMARK_BACKEND", "nope")

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Load() should have panicked")
		}
	}()
	Load()
}

func TestLoadPanicsOnZeroRealtimeHeartbeat(t *testing.T) {
	t.Setenv("SMARTMARK_BACKEND", "memory")
	t.Setenv("SMARTMARK_JWT_SECRET", "secret")
	t.Setenv("SMARTMARK_REALTIME_HEARTBEAT", "0s")

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Load() should have panicked")
		}
	}()
	Load()
}

func TestRedacted(t *testing.T) {
	cfg := defaults()
	cfg.JWTSecret = "s3cret"
	cfg.RedisPassword = "hunter2"
	cfg.SupabaseAnonKey = "anon"

	r := cfg.Redacted()
	if r.JWTSecret == "s3cret" || r.RedisPassword == "hunter2" || r.SupabaseAnonKey == "anon" {
		t.Errorf("Redacted() leaked a secret: %+v", r)
	}
	if cfg.JWTSecret != "s3cret" {
		t.Error("Redacted() must not modify the original")
	}
}
