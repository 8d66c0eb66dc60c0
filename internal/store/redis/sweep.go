package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

const sweepScanCount = 100

// Sweep drops what a row and its index entry disagree on: index entries whose
// row key is gone, and rows no owner index points to. Writes keep the two in
// step, so this only finds keys touched outside the backend. Revocation keys
// expire on their own, so now is unused.
func (b *Backend) Sweep(ctx context.Context, _ time.Time) (int, error) {
	indexed, err := b.sweepIndexes(ctx)
	if err != nil {
		return indexed, err
	}
	rows, err := b.sweepRows(ctx)
	return indexed + rows, err
}

func (b *Backend) sweepIndexes(ctx context.Context) (int, error) {
	removed := 0
	iter := b.client.Scan(ctx, 0, KeyPrefixOwner+"*:bookmarks", sweepScanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		n, err := b.sweepIndex(ctx, key)
		if err != nil {
			return removed, err
		}
		if n > 0 {
			b.logger.Info("removed dangling bookmark index entries",
				logger.String("index", key),
				logger.Int("count", n))
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan owner indexes: %w", err)
	}
	return removed, nil
}

func (b *Backend) sweepRows(ctx context.Context) (int, error) {
	removed := 0
	iter := b.client.Scan(ctx, 0, KeyPrefixBookmark+"*", sweepScanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id, err := ExtractBookmarkID(key)
		if err != nil {
			continue
		}
		orphan, err := b.unindexed(ctx, key, id)
		if err != nil {
			return removed, err
		}
		if !orphan {
			continue
		}
		if err := b.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete orphan row %s: %w", id, err)
		}
		b.logger.Info("removed orphan bookmark row", logger.String("id", id))
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan bookmark rows: %w", err)
	}
	return removed, nil
}

// unindexed reports whether the row at key is missing from its owner's index.
// Rows that cannot be decoded are left alone.
func (b *Backend) unindexed(ctx context.Context, key, id string) (bool, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read row %s: %w", id, err)
	}
	var row domain.Bookmark
	if err := json.Unmarshal(raw, &row); err != nil || row.Owner == "" {
		b.logger.Warn("undecodable bookmark row left in place", logger.String("id", id))
		return false, nil
	}

	err = b.client.ZScore(ctx, OwnerBookmarksKey(row.Owner), id).Err()
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, redis.Nil):
		return true, nil
	default:
		return false, fmt.Errorf("failed to check index of row %s: %w", id, err)
	}
}

func (b *Backend) sweepIndex(ctx context.Context, key string) (int, error) {
	ids, err := b.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read index %s: %w", key, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	cmds := make([]*redis.IntCmd, len(ids))
	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.Exists(ctx, BookmarkKey(id))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to check rows of %s: %w", key, err)
	}

	var dangling []interface{}
	for i, cmd := range cmds {
		if cmd.Val() == 0 {
			dangling = append(dangling, ids[i])
		}
	}
	if len(dangling) == 0 {
		return 0, nil
	}

	n, err := b.client.ZRem(ctx, key, dangling...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to trim index %s: %w", key, err)
	}
	return int(n), nil
}
