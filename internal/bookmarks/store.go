package bookmarks

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/metrics"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

// Store is the local cache of one owner's bookmarks, newest first.
// It is only ever replaced wholesale by Refresh, except for optimistic removal.
type Store struct {
	mu     sync.RWMutex
	rows   []domain.Bookmark
	client remote.Client

	logger  logger.Logger
	metrics *metrics.Collector
}

func NewStore(client remote.Client, log logger.Logger, m *metrics.Collector) *Store {
	return &Store{
		rows:    []domain.Bookmark{},
		client:  client,
		logger:  log,
		metrics: m,
	}
}

// Refresh re-fetches owner's rows and replaces the cache. On failure the
// previous cache is kept. A result arriving after ctx ended is discarded.
// Racing refreshes are not sequenced: the last one to finish wins.
func (s *Store) Refresh(ctx context.Context, owner string) error {
	rows, err := s.client.ListBookmarks(ctx, owner)
	if err == nil {
		err = ctx.Err()
	}
	s.metrics.ObserveRefresh(err)
	if err != nil {
		s.logger.Warn("bookmark refresh failed, keeping cache",
			logger.String("owner", owner),
			logger.Error(err))
		return fmt.Errorf("refresh bookmarks: %w", err)
	}

	domain.SortNewestFirst(rows)

	s.mu.Lock()
	s.rows = rows
	s.mu.Unlock()

	s.logger.Debug("bookmarks refreshed", logger.String("owner", owner), logger.Int("count", len(rows)))
	return nil
}

// Remove drops id from the cache. It reports whether the row was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range s.rows {
		if b.ID == id {
			s.rows = append(s.rows[:i:i], s.rows[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the cache.
func (s *Store) Snapshot() []domain.Bookmark {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Bookmark, len(s.rows))
	copy(out, s.rows)
	return out
}
