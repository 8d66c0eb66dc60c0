// Package redis is the self-hosted backend: bookmark rows and the change feed
// live in Redis, and sessions are GoTrue-compatible JWTs verified locally.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	redisconn "github.com/MrSnakeDoc/smartmark/internal/redis"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

type Options struct {
	AuthURL     string        // GoTrue base URL used for the OAuth redirect
	JWTSecret   string        // HS256 secret shared with the token issuer
	PingTimeout time.Duration // readiness ping bound
}

// Backend implements remote.Backend on a Redis client.
type Backend struct {
	client      redis.UniversalClient
	verifier    *auth.Verifier
	authURL     string
	pingTimeout time.Duration
	logger      logger.Logger
	now         func() time.Time
}

func New(client redis.UniversalClient, opts Options, log logger.Logger) *Backend {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}
	return &Backend{
		client:      client,
		verifier:    auth.NewVerifier(opts.JWTSecret),
		authURL:     opts.AuthURL,
		pingTimeout: opts.PingTimeout,
		logger:      log,
		now:         time.Now,
	}
}

func (b *Backend) Name() string { return "redis" }

func (b *Backend) ForToken(accessToken string) remote.Client {
	return &client{backend: b, token: accessToken}
}

func (b *Backend) SignInURL(provider, redirectURL string) (string, error) {
	return auth.AuthorizeURL(b.authURL, provider, redirectURL)
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := redisconn.Ping(ctx, b.client, b.pingTimeout); err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

// client is the backend bound to one access token.
type client struct {
	backend *Backend
	token   string
}
