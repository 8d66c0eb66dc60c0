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

// Subscriber holds at most one change subscription.
type Subscriber struct {
	opMu sync.Mutex // serializes Open and Close
	sub  remote.Subscription

	client  remote.Client
	logger  logger.Logger
	metrics *metrics.Collector
}

func NewSubscriber(client remote.Client, log logger.Logger, m *metrics.Collector) *Subscriber {
	return &Subscriber{client: client, logger: log, metrics: m}
}

// Open tears down any previous subscription, then subscribes to every change
// on owner's rows.
func (s *Subscriber) Open(ctx context.Context, owner string, onChange func(domain.Change)) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.closeLocked()

	sub, err := s.client.Subscribe(ctx, owner, onChange)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", owner, err)
	}
	s.sub = sub
	s.metrics.SubscriptionOpened()
	s.logger.Debug("subscription opened", logger.String("owner", owner), logger.String("subscription", sub.ID()))
	return nil
}

// Close unsubscribes. Calling it again, or without an open subscription, does nothing.
func (s *Subscriber) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.closeLocked()
}

// Active reports whether a subscription is held.
func (s *Subscriber) Active() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.sub != nil
}

func (s *Subscriber) closeLocked() {
	if s.sub == nil {
		return
	}
	sub := s.sub
	s.sub = nil
	s.metrics.SubscriptionClosed()

	if err := sub.Unsubscribe(); err != nil {
		s.logger.Warn("unsubscribe failed", logger.String("subscription", sub.ID()), logger.Error(err))
		return
	}
	s.logger.Debug("subscription closed", logger.String("subscription", sub.ID()))
}
