package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/metrics"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
	"github.com/MrSnakeDoc/smartmark/internal/remote/memory"
)

func setup(t *testing.T) (*Backend, *memory.Backend, *metrics.Collector, remote.Client) {
	t.Helper()
	mem := memory.New(memory.Options{Secret: "s", TokenTTL: time.Hour})
	m := metrics.New()
	b := Wrap(mem, Config{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}, m, logger.New("error", false))

	token, err := mem.Issue(auth.Identity{UserID: "u1"})
	require.NoError(t, err)
	return b, mem, m, b.ForToken(token)
}

func TestPassThrough(t *testing.T) {
	b, mem, m, c := setup(t)
	ctx := context.Background()

	require.NoError(t, c.InsertBookmark(ctx, domain.NewBookmark{Title: "t", URL: "https://t", Owner: "u1"}))
	rows, err := c.ListBookmarks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "memory", b.Name())
	assert.Equal(t, 1, mem.Calls(memory.OpInsert))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteCalls.WithLabelValues("insert", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteCalls.WithLabelValues("list", "ok")))
}

func TestTripsAndShortCircuits(t *testing.T) {
	b, mem, _, c := setup(t)
	ctx := context.Background()
	boom := errors.New("boom")

	mem.FailNext(memory.OpList, boom)
	mem.FailNext(memory.OpList, boom)
	_, err := c.ListBookmarks(ctx, "u1")
	assert.ErrorIs(t, err, boom)
	_, err = c.ListBookmarks(ctx, "u1")
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, "open", b.State())

	_, err = c.ListBookmarks(ctx, "u1")
	assert.True(t, errors.Is(err, remote.ErrUnavailable), "got %v", err)
	assert.Equal(t, 2, mem.Calls(memory.OpList), "open circuit must not reach the backend")
}

func TestMissingSessionDoesNotTrip(t *testing.T) {
	b, _, _, _ := setup(t)
	anon := b.ForToken("")

	for i := 0; i < 5; i++ {
		_, err := anon.GetSession(context.Background())
		assert.True(t, errors.Is(err, remote.ErrNoSession))
	}
	assert.Equal(t, "closed", b.State())
}
