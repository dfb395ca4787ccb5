package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

type backend interface {
	FetchBoard(ctx context.Context, boardID string) (*domain.Board, error)
	EnqueueIntents(ctx context.Context, boardID string, intents []domain.Intent) error
}

// Cache wraps a Storage instance with Redis-backed caching for board reads.
// Enqueuing intents evicts the board so the next resync reads through.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("gateway.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	if b, ok := c.loadFromCache(ctx, boardID); ok {
		return b, nil
	}

	b, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, boardID, b)
	return b, nil
}

func (c *Cache) EnqueueIntents(ctx context.Context, boardID string, intents []domain.Intent) error {
	if err := c.base.EnqueueIntents(ctx, boardID, intents); err != nil {
		return err
	}

	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, boardID string) (*domain.Board, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var b domain.Board
	if err := json.Unmarshal(data, &b); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return nil, false
	}
	return &b, true
}

func (c *Cache) store(ctx context.Context, boardID string, b *domain.Board) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(boardID)).Result()
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}
