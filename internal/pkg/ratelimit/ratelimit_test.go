package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket_WaitConsumesToken(t *testing.T) {
	rdb := newMiniRedis(t)
	bucket := New(rdb, nil, Config{Key: "test:ratelimit:basic", Rate: 10, Burst: 2})

	if err := bucket.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	tokensStr, err := rdb.HGet(context.Background(), bucket.cfg.Key, "tokens").Result()
	if err != nil {
		t.Fatalf("hget tokens: %v", err)
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		t.Fatalf("parse tokens: %v", err)
	}
	if tokens > 1.1 {
		t.Fatalf("expected tokens to decrease, got %.2f", tokens)
	}
}

func TestTokenBucket_WaitBlocksUntilRefill(t *testing.T) {
	rdb := newMiniRedis(t)
	bucket := New(rdb, nil, Config{Key: "test:ratelimit:block", Rate: 10, Burst: 1})

	if err := bucket.Wait(context.Background()); err != nil {
		t.Fatalf("warm wait: %v", err)
	}

	start := time.Now()
	if err := bucket.Wait(context.Background()); err != nil {
		t.Fatalf("blocked wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected blocking, elapsed=%v", elapsed)
	}
}

func TestTokenBucket_ContextTimeout(t *testing.T) {
	rdb := newMiniRedis(t)
	bucket := New(rdb, nil, Config{Key: "test:ratelimit:timeout", Rate: 1, Burst: 1})

	if err := bucket.Wait(context.Background()); err != nil {
		t.Fatalf("warm wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := bucket.Wait(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
}

func TestTokenBucket_ConcurrentWait(t *testing.T) {
	rdb := newMiniRedis(t)
	bucket := New(rdb, nil, Config{Key: "test:ratelimit:concurrent", Rate: 5, Burst: 5})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bucket.Wait(ctx); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 5 {
		t.Fatalf("expected 5 immediate successes, got %d", success)
	}
}

func TestTokenBucket_Disabled(t *testing.T) {
	var nilBucket *TokenBucket
	if err := nilBucket.Wait(context.Background()); err != nil {
		t.Fatalf("nil bucket: %v", err)
	}
	if err := New(nil, nil, Config{Rate: 1, Burst: 1}).Wait(context.Background()); err != nil {
		t.Fatalf("bucket without redis: %v", err)
	}
	if err := New(newMiniRedis(t), nil, Config{}).Wait(context.Background()); err != nil {
		t.Fatalf("zero rate: %v", err)
	}
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Errorf("close redis: %v", err)
		}
	})
	return rdb
}
