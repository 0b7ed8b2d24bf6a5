package taskqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newTestConsumer(t *testing.T, rdb *redis.Client, id string, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{WithBlockTime(10 * time.Millisecond)}, opts...)
	c, err := NewConsumer(context.Background(), rdb, testLogger(), "test:refresh", "pipeline", id, opts...)
	if err != nil {
		t.Fatalf("NewConsumer failed: %v", err)
	}
	return c
}

func TestStream_PublishReadAck(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	consumer := newTestConsumer(t, rdb, "c1")
	pub := NewPublisher(rdb, testLogger(), "test:refresh")

	if err := pub.PublishRefresh(ctx, 7, "pass-1"); err != nil {
		t.Fatalf("PublishRefresh failed: %v", err)
	}
	if n, _ := pub.Length(ctx); n != 1 {
		t.Fatalf("expected stream length 1, got %d", n)
	}

	deliveries, err := consumer.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	if got := deliveries[0].Message; got.WatchlistID != 7 || got.PassID != "pass-1" {
		t.Errorf("unexpected message: %+v", got)
	}

	if pending, _ := consumer.Pending(ctx); pending != 1 {
		t.Errorf("expected 1 pending before ack, got %d", pending)
	}
	if err := consumer.Ack(ctx, deliveries[0].ID); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if pending, _ := consumer.Pending(ctx); pending != 0 {
		t.Errorf("expected 0 pending after ack, got %d", pending)
	}

	// 没有新消息时返回空
	deliveries, err = consumer.Read(ctx)
	if err != nil {
		t.Fatalf("Read on empty stream failed: %v", err)
	}
	if len(deliveries) != 0 {
		t.Errorf("expected no deliveries, got %d", len(deliveries))
	}
}

func TestStream_PublishRejectsZeroWatchlist(t *testing.T) {
	pub := NewPublisher(newTestRedis(t), testLogger(), "test:refresh")
	if err := pub.PublishRefresh(context.Background(), 0, "pass"); err == nil {
		t.Fatal("expected error for watchlist id 0")
	}
}

func TestStream_GroupDeliversOnce(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	a := newTestConsumer(t, rdb, "a")
	b := newTestConsumer(t, rdb, "b")
	pub := NewPublisher(rdb, testLogger(), "test:refresh")

	for id := uint(1); id <= 3; id++ {
		if err := pub.PublishRefresh(ctx, id, "pass"); err != nil {
			t.Fatalf("publish %d: %v", id, err)
		}
	}

	first, err := a.Read(ctx)
	if err != nil {
		t.Fatalf("a.Read failed: %v", err)
	}
	second, err := b.Read(ctx)
	if err != nil {
		t.Fatalf("b.Read failed: %v", err)
	}
	if len(first)+len(second) != 3 {
		t.Errorf("expected 3 deliveries across the group, got %d", len(first)+len(second))
	}
}

func TestStream_HandleFailureRetriesThenDeadLetters(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	consumer := newTestConsumer(t, rdb, "c1", WithMaxRetry(1))
	pub := NewPublisher(rdb, testLogger(), "test:refresh")

	if err := pub.PublishRefresh(ctx, 3, "pass"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deliveries, err := consumer.Read(ctx)
	if err != nil || len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d (err=%v)", len(deliveries), err)
	}
	action, err := consumer.HandleFailure(ctx, deliveries[0], errors.New("search failed"))
	if err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}
	if action != FailureActionRetry {
		t.Fatalf("expected retry, got %s", action)
	}

	deliveries, err = consumer.Read(ctx)
	if err != nil || len(deliveries) != 1 {
		t.Fatalf("expected republished delivery, got %d (err=%v)", len(deliveries), err)
	}
	if deliveries[0].Message.Retry != 1 {
		t.Errorf("expected retry count 1, got %d", deliveries[0].Message.Retry)
	}

	action, err = consumer.HandleFailure(ctx, deliveries[0], errors.New("search failed"))
	if err != nil {
		t.Fatalf("HandleFailure failed: %v", err)
	}
	if action != FailureActionDLQ {
		t.Fatalf("expected dlq, got %s", action)
	}

	if n, _ := rdb.XLen(ctx, "test:refresh:dlq").Result(); n != 1 {
		t.Errorf("expected 1 dead letter, got %d", n)
	}
	if pending, _ := consumer.Pending(ctx); pending != 0 {
		t.Errorf("expected 0 pending, got %d", pending)
	}
}

func TestStream_PoisonMessageDeadLettered(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	consumer := newTestConsumer(t, rdb, "c1")

	if err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: "test:refresh",
		Values: map[string]interface{}{"data": "not json"},
	}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}

	deliveries, err := consumer.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(deliveries) != 0 {
		t.Errorf("poison message must not be delivered, got %d", len(deliveries))
	}
	if n, _ := rdb.XLen(ctx, "test:refresh:dlq").Result(); n != 1 {
		t.Errorf("expected 1 dead letter, got %d", n)
	}
	if pending, _ := consumer.Pending(ctx); pending != 0 {
		t.Errorf("poison message should be acked, got %d pending", pending)
	}
}

func TestStream_IdlePendingClaimedByOtherConsumer(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	crashed := newTestConsumer(t, rdb, "crashed")
	survivor := newTestConsumer(t, rdb, "survivor", WithPendingIdle(0))
	pub := NewPublisher(rdb, testLogger(), "test:refresh")

	if err := pub.PublishRefresh(ctx, 9, "pass"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got, err := crashed.Read(ctx); err != nil || len(got) != 1 {
		t.Fatalf("expected crashed consumer to receive message, got %d (err=%v)", len(got), err)
	}

	// crashed 未确认，survivor 通过 XAUTOCLAIM 接管
	claimed, err := survivor.Read(ctx)
	if err != nil {
		t.Fatalf("survivor.Read failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].Message.WatchlistID != 9 {
		t.Fatalf("expected survivor to claim watchlist 9, got %+v", claimed)
	}
	if err := survivor.Ack(ctx, claimed[0].ID); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if pending, _ := survivor.Pending(ctx); pending != 0 {
		t.Errorf("expected 0 pending, got %d", pending)
	}
}
