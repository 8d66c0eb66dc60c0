package bookmarks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/remote/memory"
)

func TestStoreRefreshSortsAndReplaces(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.mem.Seed(
		domain.Bookmark{ID: "1", Title: "old", URL: "https://old", Owner: "u1", CreatedAt: base},
		domain.Bookmark{ID: "2", Title: "new", URL: "https://new", Owner: "u1", CreatedAt: base.Add(time.Hour)},
		domain.Bookmark{ID: "3", Title: "theirs", URL: "https://x", Owner: "u2", CreatedAt: base},
	)

	client := f.mem.ForToken(f.token(t, "u1"))
	s := NewStore(client, logger.Nop(), f.metrics)
	assert.Empty(t, s.Snapshot())

	require.NoError(t, s.Refresh(context.Background(), "u1"))
	assert.Equal(t, []string{"new", "old"}, titles(s.Snapshot()))
}

func TestStoreRefreshFailureKeepsCache(t *testing.T) {
	f := newFixture(t)
	f.mem.Seed(domain.Bookmark{ID: "1", Title: "a", URL: "https://a", Owner: "u1", CreatedAt: time.Now()})

	s := NewStore(f.mem.ForToken(f.token(t, "u1")), logger.Nop(), f.metrics)
	require.NoError(t, s.Refresh(context.Background(), "u1"))

	boom := errors.New("offline")
	f.mem.FailNext(memory.OpList, boom)
	err := s.Refresh(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, titles(s.Snapshot()))
}

func TestStoreRefreshAfterCancelIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.mem.Seed(domain.Bookmark{ID: "1", Title: "a", URL: "https://a", Owner: "u1", CreatedAt: time.Now()})
	s := NewStore(f.mem.ForToken(f.token(t, "u1")), logger.Nop(), f.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Refresh(ctx, "u1"), context.Canceled)
	assert.Empty(t, s.Snapshot())
}

func TestStoreRemove(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.mem.Seed(
		domain.Bookmark{ID: "1", Title: "a", URL: "https://a", Owner: "u1", CreatedAt: now},
		domain.Bookmark{ID: "2", Title: "b", URL: "https://b", Owner: "u1", CreatedAt: now.Add(time.Second)},
	)
	s := NewStore(f.mem.ForToken(f.token(t, "u1")), logger.Nop(), f.metrics)
	require.NoError(t, s.Refresh(context.Background(), "u1"))

	snap := s.Snapshot()
	assert.True(t, s.Remove("1"))
	assert.False(t, s.Remove("1"))
	assert.Equal(t, []string{"b"}, titles(s.Snapshot()))
	assert.Len(t, snap, 2, "earlier snapshots are not affected")
}

func TestGuardResolve(t *testing.T) {
	f := newFixture(t)
	g := NewGuard(logger.Nop())
	ctx := context.Background()

	s, ok := g.Resolve(ctx, f.mem.ForToken(f.token(t, "u1")))
	require.True(t, ok)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "u1@example.com", s.Email)

	_, ok = g.Resolve(ctx, f.mem.ForToken(""))
	assert.False(t, ok)

	_, ok = g.Resolve(ctx, f.mem.ForToken("not-a-jwt"))
	assert.False(t, ok)

	f.mem.FailNext(memory.OpGetSession, errors.New("auth down"))
	_, ok = g.Resolve(ctx, f.mem.ForToken(f.token(t, "u1")))
	assert.False(t, ok)
}

func TestGuardDoesNotCache(t *testing.T) {
	f := newFixture(t)
	g := NewGuard(logger.Nop())
	client := f.mem.ForToken(f.token(t, "u1"))

	_, ok := g.Resolve(context.Background(), client)
	require.True(t, ok)
	require.NoError(t, client.SignOut(context.Background()))

	_, ok = g.Resolve(context.Background(), client)
	assert.False(t, ok)
	assert.Equal(t, 2, f.mem.Calls(memory.OpGetSession))
}

func TestSubscriberOpenReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	sub := NewSubscriber(f.mem.ForToken(f.token(t, "u1")), logger.Nop(), f.metrics)
	ctx := context.Background()

	assert.False(t, sub.Active())
	require.NoError(t, sub.Open(ctx, "u1", func(domain.Change) {}))
	require.NoError(t, sub.Open(ctx, "u1", func(domain.Change) {}))
	assert.True(t, sub.Active())
	assert.Equal(t, 1, f.mem.ActiveSubscriptions("u1"))

	sub.Close()
	sub.Close()
	assert.False(t, sub.Active())
	assert.Equal(t, 0, f.mem.ActiveSubscriptions("u1"))
}

func TestSubscriberOpenFailure(t *testing.T) {
	f := newFixture(t)
	sub := NewSubscriber(f.mem.ForToken(f.token(t, "u1")), logger.Nop(), f.metrics)

	f.mem.FailNext(memory.OpSubscribe, errors.New("feed down"))
	assert.Error(t, sub.Open(context.Background(), "u1", func(domain.Change) {}))
	assert.False(t, sub.Active())
}
