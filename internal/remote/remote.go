// Package remote defines the pass-through surface of the managed backend that
// owns authentication, bookmark rows and the change feed. Adapters live in
// sub-packages (supabase, memory, breaker) and in internal/store/redis.
package remote

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
)

var (
	// ErrNoSession means the caller has no valid session.
	ErrNoSession = errors.New("no active session")

	// ErrUnavailable wraps failures to reach the backend at all.
	ErrUnavailable = errors.New("backend unavailable")
)

// Backend is a process-wide handle to the managed service.
type Backend interface {
	// Name identifies the adapter in logs and /infra.
	Name() string

	// ForToken binds a client to the caller's access token. An empty token
	// yields a client whose GetSession returns ErrNoSession.
	ForToken(accessToken string) Client

	// SignInURL is where the browser goes to start the OAuth flow.
	SignInURL(provider, redirectURL string) (string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Client is the backend as seen by one authenticated caller.
type Client interface {
	GetSession(ctx context.Context) (*domain.Session, error)
	SignOut(ctx context.Context) error

	// ListBookmarks returns owner's rows ordered by creation time, newest first.
	ListBookmarks(ctx context.Context, owner string) ([]domain.Bookmark, error)
	InsertBookmark(ctx context.Context, b domain.NewBookmark) error
	// DeleteBookmark is scoped by id AND owner; a non-matching filter is not an error.
	DeleteBookmark(ctx context.Context, id, owner string) error

	// Subscribe registers onChange for every insert, update or delete on owner's rows.
	// onChange may be called from any goroutine until Unsubscribe returns.
	Subscribe(ctx context.Context, owner string, onChange func(domain.Change)) (Subscription, error)
}

// Subscription is a live change-feed registration.
type Subscription interface {
	ID() string
	Unsubscribe() error
}
