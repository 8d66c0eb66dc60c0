package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

// Subscribe listens on owner's change channel. The subscription is confirmed
// before returning, so writes issued afterwards are always observed.
func (c *client) Subscribe(ctx context.Context, owner string, onChange func(domain.Change)) (remote.Subscription, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s.UserID != owner {
		return nil, fmt.Errorf("row policy violation: user %s cannot subscribe to %s", s.UserID, owner)
	}

	ps := c.backend.client.Subscribe(ctx, ChangesChannel(owner))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}

	sub := &subscription{
		id:     ulid.Make().String(),
		pubsub: ps,
		done:   make(chan struct{}),
		logger: c.backend.logger.With(logger.String("owner", owner)),
	}
	go sub.run(ps.Channel(), onChange)
	return sub, nil
}

type subscription struct {
	id     string
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
	err    error
	logger logger.Logger
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) run(msgs <-chan *redis.Message, onChange func(domain.Change)) {
	defer close(s.done)
	for msg := range msgs {
		var change domain.Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			s.logger.Warn("malformed change payload", logger.Error(err))
			continue
		}
		onChange(change)
	}
}

// Unsubscribe closes the pub/sub connection and waits until no further
// callback can run. It must not be called from inside the callback.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		if err := s.pubsub.Close(); err != nil {
			s.err = fmt.Errorf("failed to close subscription: %w", err)
		}
		<-s.done
	})
	return s.err
}
