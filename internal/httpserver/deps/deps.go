package deps

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/bookmarks"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/metrics"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

type Deps struct {
	Logger        logger.Logger
	StartTime     time.Time
	Version       string
	TimeNow       func() time.Time    // for testing, defaults to time.Now
	Backend       remote.Backend      // remote service, already wrapped by the breaker
	BreakerState  func() string       // nil when no breaker is configured
	Hub           *auth.Hub           // process-wide auth change stream
	Guard         *bookmarks.Guard    // session resolution shared by every request
	Metrics       *metrics.Collector  // nil disables metrics
	Validate      *validator.Validate // request body validation
	PublicURL     string              // base of the OAuth redirect, ex: https://marks.domain.ext
	Provider      string              // default OAuth provider
	RemoteTimeout time.Duration       // deadline for a single REST-triggered remote call

	AllowedHosts    []string // websocket origins and Host headers, supports *.domain.ext
	AllowedOrigins  []string // CORS origins for /api
	AllowedCIDRS    []string // IPs allowed to reach the ops endpoints
	TrustProxy      bool     // true if running behind a trusted reverse proxy (e.g., cloudflared)
	CookieSecure    bool     // set Secure on the session cookie
	RateLimitBurst  int
	RateLimitPerMin int
}

// Now returns d.TimeNow(), falling back to time.Now.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
