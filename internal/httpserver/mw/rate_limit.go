package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/utils"
)

// RateLimitConfig configures a token bucket per caller. Callers are keyed by
// the session user when RequireSession ran first, otherwise by client IP.
type RateLimitConfig struct {
	Burst         int
	RefillPerMin  int
	MaxEntries    int           // 0 = unbounded
	SweepInterval time.Duration // how often idle callers are forgotten
	IdleTTL       time.Duration
	TrustProxy    bool
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 15 * time.Minute
	}
	if c.Burst < 1 {
		c.Burst = 1
	}
	if c.RefillPerMin < 1 {
		c.RefillPerMin = 1
	}
	return c
}

type callerBucket struct {
	tokens   float64
	refilled time.Time
	seen     time.Time
}

// verdict is the outcome of one take.
type verdict struct {
	allowed    bool
	remaining  int
	retryAfter int // seconds, set when !allowed
}

// writeLimiter hands out tokens per caller key. One lock covers the table;
// the work under it is a few float ops.
type writeLimiter struct {
	cfg       RateLimitConfig
	perSecond float64
	mu        sync.Mutex
	callers   map[string]*callerBucket
	swept     time.Time
}

func newWriteLimiter(cfg RateLimitConfig, now time.Time) *writeLimiter {
	cfg = cfg.withDefaults()
	return &writeLimiter{
		cfg:       cfg,
		perSecond: float64(cfg.RefillPerMin) / 60.0,
		callers:   make(map[string]*callerBucket),
		swept:     now,
	}
}

func (l *writeLimiter) take(key string, now time.Time) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	full := l.cfg.MaxEntries > 0 && len(l.callers) >= l.cfg.MaxEntries
	if full || now.Sub(l.swept) >= l.cfg.SweepInterval {
		l.forgetIdle(now)
	}

	capacity := float64(l.cfg.Burst)
	b, ok := l.callers[key]
	if !ok {
		b = &callerBucket{tokens: capacity, refilled: now}
		l.callers[key] = b
	}
	b.seen = now

	if dt := now.Sub(b.refilled).Seconds(); dt > 0 {
		b.tokens = math.Min(capacity, b.tokens+dt*l.perSecond)
		b.refilled = now
	}

	if b.tokens < 1 {
		wait := int(math.Ceil((1 - b.tokens) / l.perSecond))
		return verdict{retryAfter: max(wait, 1)}
	}
	b.tokens--
	return verdict{allowed: true, remaining: int(b.tokens)}
}

func (l *writeLimiter) forgetIdle(now time.Time) {
	for key, b := range l.callers {
		if now.Sub(b.seen) > l.cfg.IdleTTL {
			delete(l.callers, key)
		}
	}
	l.swept = now
}

// callerKey is the session owner when known, else the client IP.
func callerKey(r *http.Request, trustProxy bool) string {
	if s := SessionFrom(r.Context()); s != nil {
		return "user:" + s.UserID
	}
	return "ip:" + utils.ClientIP(r, trustProxy)
}

// RateLimit rejects callers that exhausted their bucket with a JSON 429.
func RateLimit(cfg RateLimitConfig, log logger.Logger) func(http.Handler) http.Handler {
	l := newWriteLimiter(cfg, time.Now())
	limit := strconv.Itoa(l.cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := callerKey(r, l.cfg.TrustProxy)
			v := l.take(key, time.Now())

			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(v.remaining))
			if !v.allowed {
				log.Debug("rate limited", logger.String("caller", key), logger.String("path", r.URL.Path))
				w.Header().Set("Retry-After", strconv.Itoa(v.retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limited"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
