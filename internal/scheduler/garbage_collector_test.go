package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/remote/memory"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) Name() string { return "counting" }

func (s *countingSweeper) Sweep(context.Context, time.Time) (int, error) {
	s.calls.Add(1)
	return 1, s.err
}

func TestGarbageCollector_Collect(t *testing.T) {
	log := logger.New("error", false)
	mem := memory.New(memory.Options{Secret: "s", TokenTTL: time.Minute})

	token, err := mem.Issue(auth.Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := mem.ForToken(token).SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	gc := NewGarbageCollector(mem, log, time.Hour)

	n, err := gc.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected live revocation to survive, removed %d", n)
	}

	gc.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = gc.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 expired revocation removed, got %d", n)
	}
}

func TestGarbageCollector_StartStop(t *testing.T) {
	s := &countingSweeper{}
	gc := NewGarbageCollector(s, logger.New("error", false), 10*time.Millisecond)

	gc.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for s.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	gc.Stop()

	calls := s.calls.Load()
	if calls < 3 {
		t.Fatalf("Expected at least 3 sweeps, got %d", calls)
	}
	time.Sleep(30 * time.Millisecond)
	if s.calls.Load() != calls {
		t.Error("Sweeps continued after Stop")
	}
}

func TestGarbageCollector_ErrorsAreReturned(t *testing.T) {
	s := &countingSweeper{err: errors.New("boom")}
	gc := NewGarbageCollector(s, logger.New("error", false), time.Hour)

	if _, err := gc.Collect(context.Background()); err == nil {
		t.Error("Expected sweep error to be returned")
	}
}
