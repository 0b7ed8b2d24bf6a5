package dedup

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "apato:pending:notify:"

// Claims 记录尚未完成的通知任务。
//
// 同一 (watchlist, card) 在认领释放或过期前只能被认领一次，
// 生产者据此避免为同一条待发送链接重复入队。
// 未配置 Redis 时退化为进程内集合（不过期）。
type Claims struct {
	rdb *redis.Client
	ttl time.Duration

	mu    sync.Mutex
	local map[string]struct{}
}

func NewClaims(rdb *redis.Client, ttl time.Duration) *Claims {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Claims{
		rdb:   rdb,
		ttl:   ttl,
		local: make(map[string]struct{}),
	}
}

// Claim 尝试认领 (watchlistID, cardID)。返回 false 表示已有待处理任务。
func (c *Claims) Claim(ctx context.Context, watchlistID uint, cardID int64) (bool, error) {
	key := claimKey(watchlistID, cardID)
	if c.rdb == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.local[key]; ok {
			return false, nil
		}
		c.local[key] = struct{}{}
		return true, nil
	}
	ok, err := c.rdb.SetNX(ctx, key, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim setnx: %w", err)
	}
	return ok, nil
}

// Release 释放认领。
func (c *Claims) Release(ctx context.Context, watchlistID uint, cardID int64) error {
	key := claimKey(watchlistID, cardID)
	if c.rdb == nil {
		c.mu.Lock()
		delete(c.local, key)
		c.mu.Unlock()
		return nil
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("claim del: %w", err)
	}
	return nil
}

// Pending 返回当前未释放的认领数量。
func (c *Claims) Pending(ctx context.Context) (int, error) {
	if c.rdb == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.local), nil
	}
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("claim scan: %w", err)
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func claimKey(watchlistID uint, cardID int64) string {
	return keyPrefix + strconv.FormatUint(uint64(watchlistID), 10) + ":" + strconv.FormatInt(cardID, 10)
}
