package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

// ListBookmarks reads owner's index newest first and fetches the rows in one MGET.
// A caller asking for another user's rows gets an empty list.
func (c *client) ListBookmarks(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s.UserID != owner {
		return []domain.Bookmark{}, nil
	}

	ids, err := c.backend.client.ZRevRange(ctx, OwnerBookmarksKey(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmark ids: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Bookmark{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BookmarkKey(id)
	}
	values, err := c.backend.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmarks: %w", err)
	}

	bookmarks := make([]domain.Bookmark, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a row: skip it.
			c.backend.logger.Debug("dangling bookmark index entry", logger.String("id", ids[i]))
			continue
		}
		var b domain.Bookmark
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bookmark %s: %w", ids[i], err)
		}
		bookmarks = append(bookmarks, b)
	}

	domain.SortNewestFirst(bookmarks)
	return bookmarks, nil
}

// InsertBookmark writes the row, indexes it and announces the change atomically.
func (c *client) InsertBookmark(ctx context.Context, nb domain.NewBookmark) error {
	s, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if s.UserID != nb.Owner {
		return fmt.Errorf("row policy violation: user %s cannot insert for %s", s.UserID, nb.Owner)
	}

	row := domain.Bookmark{
		ID:        uuid.NewString(),
		Title:     nb.Title,
		URL:       nb.URL,
		Owner:     nb.Owner,
		CreatedAt: c.backend.now().UTC(),
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal bookmark: %w", err)
	}
	change, err := json.Marshal(domain.Change{Type: domain.ChangeInsert, Owner: row.Owner, ID: row.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	_, err = c.backend.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, BookmarkKey(row.ID), data, 0)
		pipe.ZAdd(ctx, OwnerBookmarksKey(row.Owner), redis.Z{
			Score:  float64(row.CreatedAt.UnixMicro()),
			Member: row.ID,
		})
		pipe.Publish(ctx, ChangesChannel(row.Owner), change)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save bookmark: %w", err)
	}
	return nil
}

// deleteScript drops the index entry and, only if there was one, the row,
// then announces the change. KEYS: index, row. ARGV: id, channel, change.
var deleteScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("DEL", KEYS[2])
redis.call("PUBLISH", ARGV[2], ARGV[3])
return 1
`)

// DeleteBookmark removes id only if it is indexed under owner and owner is the caller.
// A non-matching filter deletes nothing and is not an error. The index entry,
// the row and the change notification go together or not at all.
func (c *client) DeleteBookmark(ctx context.Context, id, owner string) error {
	s, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if s.UserID != owner {
		return nil
	}

	change, err := json.Marshal(domain.Change{Type: domain.ChangeDelete, Owner: owner, ID: id})
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	keys := []string{OwnerBookmarksKey(owner), BookmarkKey(id)}
	if err := deleteScript.Run(ctx, c.backend.client, keys, id, ChangesChannel(owner), change).Err(); err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	return nil
}
