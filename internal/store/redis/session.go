package redis

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

func (c *client) GetSession(ctx context.Context) (*domain.Session, error) {
	if c.token == "" {
		return nil, remote.ErrNoSession
	}
	s, err := c.backend.verifier.Verify(c.token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrNoSession, err)
	}

	n, err := c.backend.client.Exists(ctx, RevokedKey(auth.TokenHash(c.token))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: token revoked", remote.ErrNoSession)
	}
	return s, nil
}

// SignOut revokes the token until it would have expired anyway.
func (c *client) SignOut(ctx context.Context) error {
	s, err := c.GetSession(ctx)
	if err != nil {
		return err
	}

	ttl := s.ExpiresAt.Sub(c.backend.now())
	if ttl <= 0 {
		return nil
	}
	if err := c.backend.client.Set(ctx, RevokedKey(auth.TokenHash(c.token)), s.UserID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	c.backend.logger.Debug("token revoked", logger.String("user_id", s.UserID), logger.Duration("ttl", ttl))
	return nil
}
