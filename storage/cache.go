package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/Soham-047/trello-mini/domain"
)

type snapshotReader interface {
	FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// Cache wraps board snapshot reads with Redis. Cache failures fall back to
// the backing store; the pipeline evicts a board's entry after every
// committed mutation so readers converge on the committed state.
type Cache struct {
	base  snapshotReader
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper around base. A nil client disables
// caching entirely.
func NewCache(base snapshotReader, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// FetchBoard returns the cached snapshot when present, otherwise reads
// through and populates the cache.
func (c *Cache) FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	if snap, ok := c.load(ctx, boardID); ok {
		return snap, nil
	}

	snap, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}

	c.store(ctx, boardID, snap)
	return snap, nil
}

// EvictBoard drops the cached snapshot for one board.
func (c *Cache) EvictBoard(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, snapshotKey(boardID)).Err()
}

func (c *Cache) load(ctx context.Context, boardID string) (domain.BoardSnapshot, bool) {
	if c.redis == nil {
		return domain.BoardSnapshot{}, false
	}
	data, err := c.redis.Get(ctx, snapshotKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, snapshotKey(boardID)).Err()
		}
		return domain.BoardSnapshot{}, false
	}
	var snap domain.BoardSnapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, snapshotKey(boardID)).Err()
		return domain.BoardSnapshot{}, false
	}
	return snap, true
}

func (c *Cache) store(ctx context.Context, boardID string, snap domain.BoardSnapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, snapshotKey(boardID), data, c.ttl).Err()
}

func snapshotKey(boardID string) string {
	return "board:" + boardID + ":snapshot"
}
