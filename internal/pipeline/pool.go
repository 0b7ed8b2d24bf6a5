package pipeline

import (
	"context"
	"log/slog"
	"time"

	"apato/internal/pkg/metrics"
	"apato/internal/pkg/queue"
)

// Handler 处理单个任务。
type Handler func(ctx context.Context, t Task) error

// Pool 固定大小的消费者池。
//
// 关闭后拒绝新任务，并处理完关闭前已接受的任务。
type Pool struct {
	q        *queue.Queue[Task]
	handler  Handler
	logger   *slog.Logger
	shutdown context.Context
}

func NewPool(logger *slog.Logger, workers, capacity int) *Pool {
	p := &Pool{logger: logger}
	p.q = queue.New(logger, workers, capacity, p.run)
	metrics.InitMetrics(workers)
	return p
}

// Start 启动 worker。必须在第一次 Submit 之前调用。
//
// ctx 是关闭信号：已接受的任务在信号后仍会执行，但长任务不再开始新的工作单元。
func (p *Pool) Start(ctx context.Context, handler Handler) {
	p.handler = handler
	p.shutdown = ctx
	p.q.Start(ctx)
}

// Submit 非阻塞提交任务。关闭后返回 queue.ErrClosed，队列满时返回 queue.ErrFull。
func (p *Pool) Submit(t Task) error {
	if err := p.q.Submit(t); err != nil {
		return err
	}
	metrics.QueueDepth.Set(float64(p.q.Len()))
	return nil
}

func (p *Pool) run(ctx context.Context, t Task) error {
	start := time.Now()
	metrics.QueueDepth.Set(float64(p.q.Len()))

	err := p.handler(withShutdown(ctx, p.shutdown), t)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.TasksProcessedTotal.WithLabelValues(t.Kind(), result).Inc()
	p.logger.Debug("task done",
		slog.String("kind", t.Kind()),
		slog.String("result", result),
		slog.Duration("took", time.Since(start)))
	return err
}

// Shutdown 停止接受任务并等待剩余任务完成，最多等待 timeout。
func (p *Pool) Shutdown(timeout time.Duration) error {
	return p.q.ShutdownWithTimeout(timeout)
}

// Stats 返回队列统计。
func (p *Pool) Stats() queue.Stats {
	return p.q.Stats()
}

// LogStats 打印队列统计信息。
func (p *Pool) LogStats() {
	stats := p.q.Stats()
	p.logger.Info("queue statistics",
		slog.Int("pending", stats.Pending),
		slog.Int("capacity", p.q.Cap()),
		slog.Int64("in_flight", stats.InFlight),
		slog.Int64("total_submitted", stats.Submitted),
		slog.Int64("total_processed", stats.Processed),
		slog.Int64("total_succeeded", stats.Succeeded),
		slog.Int64("total_failed", stats.Failed),
		slog.Int64("total_rejected", stats.Rejected),
		slog.Int64("total_panics", stats.Panics),
	)

	if stats.Rejected > 100 {
		p.logger.Warn("high task rejection rate detected, consider increasing workers or queue capacity",
			slog.Int64("total_rejected", stats.Rejected))
	}
}
