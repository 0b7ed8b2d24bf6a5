package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"apato/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// DefaultStream 默认的刷新 Stream 名称。
const DefaultStream = "apato:watchlist:refresh"

// TaskQueue 封装 Redis Streams 的基础操作。
type TaskQueue struct {
	rdb        *redis.Client
	logger     *slog.Logger
	streamName string
	maxLen     int64
}

// NewTaskQueue 创建一个新的 Stream 队列实例。
func NewTaskQueue(rdb *redis.Client, logger *slog.Logger, streamName string) *TaskQueue {
	if streamName == "" {
		streamName = DefaultStream
	}
	return &TaskQueue{
		rdb:        rdb,
		logger:     logger,
		streamName: streamName,
		maxLen:     100000,
	}
}

// Stream 返回 Stream 名称。
func (q *TaskQueue) Stream() string {
	return q.streamName
}

// Publish 使用 XADD 把消息追加到 Stream。
func (q *TaskQueue) Publish(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return q.publishRaw(ctx, q.streamName, map[string]interface{}{
		"data": string(data),
	})
}

func (q *TaskQueue) publishRaw(ctx context.Context, stream string, values map[string]interface{}) error {
	msgID, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: q.maxLen,
		Approx: false,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}

	q.logger.Debug("stream message published",
		slog.String("stream", stream),
		slog.String("msg_id", msgID))
	return nil
}

// CreateConsumerGroup 创建消费者组，已存在时忽略。
func (q *TaskQueue) CreateConsumerGroup(ctx context.Context, groupName string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.streamName, groupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	q.logger.Info("consumer group ready",
		slog.String("stream", q.streamName),
		slog.String("group", groupName))
	return nil
}

// Length 返回 Stream 中的消息数量。
func (q *TaskQueue) Length(ctx context.Context) (int64, error) {
	length, err := q.rdb.XLen(ctx, q.streamName).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return length, nil
}

// Publisher 把关注列表刷新请求发布到 Stream，由任意管道进程消费。
type Publisher struct {
	queue *TaskQueue
}

// NewPublisher 创建发布者。
func NewPublisher(rdb *redis.Client, logger *slog.Logger, streamName string) *Publisher {
	return &Publisher{queue: NewTaskQueue(rdb, logger, streamName)}
}

// PublishRefresh 发布一条刷新消息。
func (p *Publisher) PublishRefresh(ctx context.Context, watchlistID uint, passID string) error {
	if watchlistID == 0 {
		return fmt.Errorf("invalid watchlist id: %d", watchlistID)
	}
	if err := p.queue.Publish(ctx, NewRefreshMessage(watchlistID, passID)); err != nil {
		return err
	}
	metrics.StreamPublishedTotal.Inc()
	return nil
}

// Length 返回 Stream 长度。
func (p *Publisher) Length(ctx context.Context) (int64, error) {
	return p.queue.Length(ctx)
}

func parseMessage(data string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.WatchlistID == 0 {
		return nil, fmt.Errorf("message without watchlist id")
	}
	return &msg, nil
}
