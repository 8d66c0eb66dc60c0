// Package bookmarks is the live-synchronized bookmark list: a session guard,
// a cache reconciled by full re-fetch, a change subscription and the list view
// tying them together.
package bookmarks

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

// Guard resolves the caller's session. Nothing is cached between calls.
type Guard struct {
	logger logger.Logger
}

func NewGuard(log logger.Logger) *Guard {
	return &Guard{logger: log}
}

// Resolve returns the current session, or false when there is none.
// Backend errors count as "no session".
func (g *Guard) Resolve(ctx context.Context, client remote.Client) (*domain.Session, bool) {
	s, err := client.GetSession(ctx)
	if err != nil {
		if !errors.Is(err, remote.ErrNoSession) {
			g.logger.Warn("failed to resolve session", logger.Error(err))
		}
		return nil, false
	}
	if s == nil || s.UserID == "" {
		return nil, false
	}
	return s, true
}
