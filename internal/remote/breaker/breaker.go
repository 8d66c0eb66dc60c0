// Package breaker decorates a remote.Backend with one process-wide circuit
// breaker and per-call metrics.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/metrics"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

type Config struct {
	MaxRequests  uint32        // trial calls allowed while half-open
	Interval     time.Duration // closed-state window after which counts reset
	Timeout      time.Duration // open-state duration before half-open
	FailureRatio float64       // trip when failures/requests reaches this
	MinRequests  uint32        // no tripping below this many requests
}

// Backend wraps another backend. Calls that find the circuit open fail with
// remote.ErrUnavailable without reaching the wrapped backend.
type Backend struct {
	next    remote.Backend
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Collector
}

func Wrap(next remote.Backend, cfg Config, m *metrics.Collector, log logger.Logger) *Backend {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("backend", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
		IsSuccessful: healthy,
	})
	return &Backend{next: next, cb: cb, metrics: m}
}

// healthy reports whether err says nothing about the backend's health.
func healthy(err error) bool {
	return err == nil ||
		errors.Is(err, remote.ErrNoSession) ||
		errors.Is(err, context.Canceled)
}

// State returns the breaker state for /infra.
func (b *Backend) State() string { return b.cb.State().String() }

func (b *Backend) Name() string { return b.next.Name() }

func (b *Backend) ForToken(accessToken string) remote.Client {
	return &client{backend: b, next: b.next.ForToken(accessToken)}
}

func (b *Backend) SignInURL(provider, redirectURL string) (string, error) {
	return b.next.SignInURL(provider, redirectURL)
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.call("ping", func() error { return b.next.Ping(ctx) })
}

func (b *Backend) Close() error { return b.next.Close() }

func (b *Backend) call(op string, fn func() error) error {
	start := time.Now()
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %s: %v", remote.ErrUnavailable, op, err)
	}
	b.metrics.ObserveRemote(op, start, err)
	return err
}

type client struct {
	backend *Backend
	next    remote.Client
}

func (c *client) GetSession(ctx context.Context) (*domain.Session, error) {
	var s *domain.Session
	err := c.backend.call("get_session", func() (err error) {
		s, err = c.next.GetSession(ctx)
		return err
	})
	return s, err
}

func (c *client) SignOut(ctx context.Context) error {
	return c.backend.call("sign_out", func() error { return c.next.SignOut(ctx) })
}

func (c *client) ListBookmarks(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	var rows []domain.Bookmark
	err := c.backend.call("list", func() (err error) {
		rows, err = c.next.ListBookmarks(ctx, owner)
		return err
	})
	return rows, err
}

func (c *client) InsertBookmark(ctx context.Context, nb domain.NewBookmark) error {
	return c.backend.call("insert", func() error { return c.next.InsertBookmark(ctx, nb) })
}

func (c *client) DeleteBookmark(ctx context.Context, id, owner string) error {
	return c.backend.call("delete", func() error { return c.next.DeleteBookmark(ctx, id, owner) })
}

func (c *client) Subscribe(ctx context.Context, owner string, onChange func(domain.Change)) (remote.Subscription, error) {
	var sub remote.Subscription
	err := c.backend.call("subscribe", func() (err error) {
		sub, err = c.next.Subscribe(ctx, owner, onChange)
		return err
	})
	return sub, err
}
