package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/adjust_stock.lua
var adjustStockScript string

var ErrStockDrift = errors.New("cached stock would go negative")

type Client struct {
	rdb          *redis.Client
	adjustScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:          rdb,
		adjustScript: redis.NewScript(adjustStockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(partID int64) string {
	return fmt.Sprintf("stock:%d", partID)
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:refund:%s", key)
}

// InitStock sets the mirrored counters of a part
func (c *Client) InitStock(ctx context.Context, partID int64, available, sold int) error {
	key := stockKey(partID)

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, "available", available)
	pipe.HSet(ctx, key, "sold", sold)

	_, err := pipe.Exec(ctx)
	return err
}

// AdjustStock atomically applies deltas to the mirrored counters.
// Returns false when the part is not mirrored yet.
func (c *Client) AdjustStock(ctx context.Context, partID int64, availableDelta, soldDelta int) (bool, error) {
	result, err := c.adjustScript.Run(ctx, c.rdb, []string{stockKey(partID)}, availableDelta, soldDelta).Result()
	if err != nil {
		return false, fmt.Errorf("adjust stock script failed: %w", err)
	}

	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	switch code {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("%w: part %d", ErrStockDrift, partID)
	}
}

// GetStock retrieves the mirrored counters of a part
func (c *Client) GetStock(ctx context.Context, partID int64) (available, sold int, err error) {
	result, err := c.rdb.HGetAll(ctx, stockKey(partID)).Result()
	if err != nil {
		return 0, 0, err
	}

	if len(result) == 0 {
		return 0, 0, fmt.Errorf("stock not cached for part %d", partID)
	}

	available, _ = strconv.Atoi(result["available"])
	sold, _ = strconv.Atoi(result["sold"])
	return available, sold, nil
}

// SetIdempotentRefund remembers the refund created for an idempotency key
func (c *Client) SetIdempotentRefund(ctx context.Context, key string, refundID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), refundID, ttl).Err()
}

// GetIdempotentRefund looks up the refund created for an idempotency key
func (c *Client) GetIdempotentRefund(ctx context.Context, key string) (int64, bool, error) {
	id, err := c.rdb.Get(ctx, idempotencyKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
