// Package supabase binds the remote contract to a Supabase project: GoTrue for
// sessions, PostgREST for rows and the Realtime service for the change feed.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

const selectColumns = "id,title,url,user_id,created_at"

type Config struct {
	URL      string // project URL, ex: https://xyz.supabase.co
	AnonKey  string
	Schema   string // ex: public
	Table    string // ex: bookmarks
	Realtime RealtimeConfig
}

// Backend implements remote.Backend against a Supabase project.
type Backend struct {
	cfg      Config
	auth     gotrue.Client
	realtime string
	dialer   *websocket.Dialer
	logger   logger.Logger
}

// New builds the backend on the supabase-go client's auth API.
func New(cfg Config, log logger.Logger) (*Backend, error) {
	client, err := supa.NewClient(cfg.URL, cfg.AnonKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return newBackend(cfg, client.Auth, log)
}

func newBackend(cfg Config, authClient gotrue.Client, log logger.Logger) (*Backend, error) {
	cfg.Realtime = cfg.Realtime.withDefaults()
	endpoint, err := realtimeURL(cfg.URL, cfg.AnonKey)
	if err != nil {
		return nil, err
	}
	return &Backend{
		cfg:      cfg,
		auth:     authClient,
		realtime: endpoint,
		dialer:   websocket.DefaultDialer,
		logger:   log.With(logger.String("backend", "supabase")),
	}, nil
}

func (b *Backend) Name() string { return "supabase" }

func (b *Backend) ForToken(accessToken string) remote.Client {
	return &client{backend: b, token: accessToken}
}

func (b *Backend) SignInURL(provider, redirectURL string) (string, error) {
	return auth.AuthorizeURL(b.cfg.URL, provider, redirectURL)
}

// Ping checks the GoTrue health endpoint.
func (b *Backend) Ping(ctx context.Context) error {
	err := withContext(ctx, func() error {
		_, err := b.auth.HealthCheck()
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	return nil
}

func (b *Backend) Close() error { return nil }

// rest returns a PostgREST client carrying the caller's token so row-level security applies.
// postgrest.Client mutates its headers, so each call gets its own.
func (b *Backend) rest(token string) *postgrest.Client {
	return postgrest.NewClient(
		strings.TrimRight(b.cfg.URL, "/")+"/rest/v1",
		b.cfg.Schema,
		map[string]string{"apikey": b.cfg.AnonKey},
	).SetAuthToken(token)
}

// withContext runs a blocking SDK call that takes no context and returns
// early if ctx ends first. The call itself is left to finish in the background.
func withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// unauthorized matches the "response status code N" errors gotrue-go returns.
func unauthorized(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "status code 401") || strings.Contains(msg, "status code 403")
}

type client struct {
	backend *Backend
	token   string
}

func (c *client) GetSession(ctx context.Context) (*domain.Session, error) {
	if c.token == "" {
		return nil, remote.ErrNoSession
	}
	claims, err := auth.ParseUnverified(c.token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrNoSession, err)
	}

	var s *domain.Session
	err = withContext(ctx, func() error {
		user, err := c.backend.auth.WithToken(c.token).GetUser()
		if err != nil {
			return err
		}
		s = &domain.Session{
			AccessToken: c.token,
			UserID:      user.ID.String(),
			Email:       user.Email,
			Name:        domain.NameFromMetadata(user.UserMetadata),
			AvatarURL:   domain.AvatarFromMetadata(user.UserMetadata),
		}
		return nil
	})
	if err != nil {
		if unauthorized(err) {
			return nil, fmt.Errorf("%w: %v", remote.ErrNoSession, err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

func (c *client) SignOut(ctx context.Context) error {
	if c.token == "" {
		return remote.ErrNoSession
	}
	err := withContext(ctx, func() error {
		return c.backend.auth.WithToken(c.token).Logout()
	})
	if err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

func (c *client) ListBookmarks(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	var rows []domain.Bookmark
	err := withContext(ctx, func() error {
		_, err := c.backend.rest(c.token).
			From(c.backend.cfg.Table).
			Select(selectColumns, "", false).
			Eq("user_id", owner).
			Order("created_at", &postgrest.OrderOpts{Ascending: false}).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select bookmarks: %w", err)
	}
	if rows == nil {
		rows = []domain.Bookmark{}
	}
	return rows, nil
}

func (c *client) InsertBookmark(ctx context.Context, nb domain.NewBookmark) error {
	err := withContext(ctx, func() error {
		_, _, err := c.backend.rest(c.token).
			From(c.backend.cfg.Table).
			Insert(nb, false, "", "minimal", "").
			Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert bookmark: %w", err)
	}
	return nil
}

func (c *client) DeleteBookmark(ctx context.Context, id, owner string) error {
	err := withContext(ctx, func() error {
		_, _, err := c.backend.rest(c.token).
			From(c.backend.cfg.Table).
			Delete("minimal", "").
			Eq("id", id).
			Eq("user_id", owner).
			Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	return nil
}

func (c *client) Subscribe(ctx context.Context, owner string, onChange func(domain.Change)) (remote.Subscription, error) {
	if c.token == "" {
		return nil, remote.ErrNoSession
	}
	if owner == "" {
		return nil, errors.New("owner is required")
	}

	joinCtx, cancel := context.WithTimeout(ctx, c.backend.cfg.Realtime.JoinWait+time.Second)
	defer cancel()

	ch, err := openChannel(joinCtx, c.backend.realtime, c.backend.cfg.Table, c.backend.cfg.Schema,
		owner, c.token, c.backend.cfg.Realtime, c.backend.dialer, onChange, c.backend.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}
	return ch, nil
}
