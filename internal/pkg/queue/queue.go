package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed 队列已开始关闭，不再接受新任务。
var ErrClosed = errors.New("queue: closed")

// ErrFull 队列已满。
var ErrFull = errors.New("queue: full")

// Handler 处理单个任务。
type Handler[T any] func(ctx context.Context, item T) error

// ErrorHandler 错误处理回调函数。
type ErrorHandler[T any] func(err error, item T)

// Queue 内存任务队列与固定 worker 池。
//
// 关闭时先拒绝新任务，再等待 worker 把关闭前已接受的任务全部处理完。
type Queue[T any] struct {
	logger       *slog.Logger
	workers      int
	items        chan T
	handler      Handler[T]
	errorHandler ErrorHandler[T]

	// mu 保证 Submit 与 close(items) 不会并发
	mu     sync.RWMutex
	closed atomic.Bool

	wg     sync.WaitGroup
	cancel context.CancelFunc

	stats queueStats
}

// queueStats 队列内部统计信息（使用 atomic 类型）。
type queueStats struct {
	submitted atomic.Int64
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
	inFlight  atomic.Int64
}

// Stats 队列统计信息快照。
type Stats struct {
	Submitted int64 // 总入队任务数
	Processed int64 // 总处理完成数
	Succeeded int64 // 成功任务数
	Failed    int64 // 失败任务数
	Rejected  int64 // 拒绝任务数（队列满或已关闭）
	Panics    int64 // Panic 次数
	InFlight  int64 // 正在执行的任务数
	Pending   int   // 排队中的任务数
}

// New 创建一个新的任务队列。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 队列容量（至少为 1）
//   - handler: 任务处理函数
func New[T any](logger *slog.Logger, workers, capacity int, handler Handler[T]) *Queue[T] {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		logger:  logger,
		workers: workers,
		items:   make(chan T, capacity),
		handler: handler,
	}
}

// SetErrorHandler 设置错误处理回调函数。
func (q *Queue[T]) SetErrorHandler(handler ErrorHandler[T]) {
	q.errorHandler = handler
}

// Start 启动 worker 池。
//
// worker 使用的 context 不随 ctx 取消，只有 ShutdownWithTimeout 超时才会取消，
// 保证关闭信号到来时已接受的任务仍能执行完。
func (q *Queue[T]) Start(ctx context.Context) {
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(workCtx, i)
	}
}

func (q *Queue[T]) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for item := range q.items {
		q.execute(ctx, item, id)
	}
	q.logger.Debug("worker exit on closed channel", slog.Int("worker_id", id))
}

// execute 执行单个任务，带 panic 恢复和错误处理。
func (q *Queue[T]) execute(ctx context.Context, item T, workerID int) {
	q.stats.inFlight.Add(1)
	defer q.stats.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			q.stats.panics.Add(1)
			q.logger.Error("task panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	err := q.handler(ctx, item)
	q.stats.processed.Add(1)

	if err != nil {
		q.stats.failed.Add(1)
		q.logger.Warn("task failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		if q.errorHandler != nil {
			q.errorHandler(err, item)
		}
		return
	}
	q.stats.succeeded.Add(1)
}

// Submit 非阻塞入队。队列已关闭返回 ErrClosed，已满返回 ErrFull。
func (q *Queue[T]) Submit(item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed.Load() {
		q.stats.rejected.Add(1)
		return ErrClosed
	}

	select {
	case q.items <- item:
		q.stats.submitted.Add(1)
		return nil
	default:
		q.stats.rejected.Add(1)
		q.logger.Warn("queue full, reject task",
			slog.Int("capacity", cap(q.items)),
			slog.Int("pending", len(q.items)))
		return ErrFull
	}
}

// close 标记关闭并关闭通道，只生效一次。
func (q *Queue[T]) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed.CompareAndSwap(false, true) {
		return false
	}
	close(q.items)
	return true
}

// Shutdown 优雅关闭队列：
//  1. 标记为已关闭（拒绝新任务）
//  2. 关闭任务通道
//  3. 等待 worker 处理完剩余任务
func (q *Queue[T]) Shutdown() {
	if !q.close() {
		return
	}
	q.logger.Info("queue draining", slog.Int("pending", len(q.items)))
	q.wg.Wait()
	q.logger.Info("queue shutdown completed")
}

// ShutdownWithTimeout 带超时的优雅关闭。超时后取消 worker 的 context 并返回错误。
func (q *Queue[T]) ShutdownWithTimeout(timeout time.Duration) error {
	if !q.close() {
		return ErrClosed
	}
	q.logger.Info("queue draining",
		slog.Int("pending", len(q.items)),
		slog.String("timeout", timeout.String()))

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		q.logger.Info("queue shutdown completed")
		return nil
	case <-timer.C:
		if q.cancel != nil {
			q.cancel()
		}
		q.logger.Error("queue shutdown timeout", slog.Int("pending", len(q.items)))
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Stats 获取队列统计信息的快照。
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Submitted: q.stats.submitted.Load(),
		Processed: q.stats.processed.Load(),
		Succeeded: q.stats.succeeded.Load(),
		Failed:    q.stats.failed.Load(),
		Rejected:  q.stats.rejected.Load(),
		Panics:    q.stats.panics.Load(),
		InFlight:  q.stats.inFlight.Load(),
		Pending:   len(q.items),
	}
}

// Len 返回当前队列中待处理的任务数量。
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap 返回队列的容量。
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}

// IsClosed 返回队列是否已关闭。
func (q *Queue[T]) IsClosed() bool {
	return q.closed.Load()
}

// String 返回队列的状态描述。
func (q *Queue[T]) String() string {
	s := q.Stats()
	return fmt.Sprintf("Queue[workers=%d, capacity=%d, pending=%d, closed=%v, submitted=%d, processed=%d, succeeded=%d, failed=%d, rejected=%d, panics=%d]",
		q.workers, q.Cap(), s.Pending, q.IsClosed(),
		s.Submitted, s.Processed, s.Succeeded, s.Failed, s.Rejected, s.Panics)
}
