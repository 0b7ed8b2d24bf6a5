package pipeline

import (
	"context"
	"log/slog"
	"time"

	"apato/internal/pkg/taskqueue"
)

// StreamReader 读取并确认刷新消息，由 taskqueue.Consumer 实现。
type StreamReader interface {
	Read(ctx context.Context) ([]*taskqueue.Delivery, error)
	Ack(ctx context.Context, msgID string) error
	HandleFailure(ctx context.Context, d *taskqueue.Delivery, cause error) (taskqueue.FailureAction, error)
}

// StreamWorker 消费 stream 模式下发布的刷新消息，
// 以 RefreshWatchlist 任务的语义在本进程内处理。
type StreamWorker struct {
	reader   StreamReader
	store    Store
	consumer *Consumer
	logger   *slog.Logger
	backoff  time.Duration
}

func NewStreamWorker(reader StreamReader, store Store, consumer *Consumer, logger *slog.Logger) *StreamWorker {
	return &StreamWorker{
		reader:   reader,
		store:    store,
		consumer: consumer,
		logger:   logger,
		backoff:  time.Second,
	}
}

// Run 循环读取消息直到 ctx 取消。已读取的一批消息会处理完再返回。
func (w *StreamWorker) Run(ctx context.Context) {
	w.logger.Info("stream worker started")
	defer w.logger.Info("stream worker stopped")

	for ctx.Err() == nil {
		deliveries, err := w.reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("read refresh stream failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
			continue
		}
		for _, d := range deliveries {
			w.handle(ctx, d)
		}
	}
}

func (w *StreamWorker) handle(ctx context.Context, d *taskqueue.Delivery) {
	work := context.WithoutCancel(ctx)
	logger := w.logger.With(
		slog.String("msg_id", d.ID),
		slog.Uint64("watchlist_id", uint64(d.Message.WatchlistID)),
		slog.String("pass_id", d.Message.PassID))

	wl, err := w.store.GetWatchlist(work, d.Message.WatchlistID)
	if err != nil {
		w.fail(work, logger, d, err)
		return
	}
	if wl == nil {
		logger.Info("watchlist deleted, dropping refresh")
		w.ack(work, logger, d)
		return
	}

	if err := w.consumer.Handle(withShutdown(work, ctx), RefreshWatchlist{Watchlist: *wl}); err != nil {
		w.fail(work, logger, d, err)
		return
	}
	w.ack(work, logger, d)
}

func (w *StreamWorker) ack(ctx context.Context, logger *slog.Logger, d *taskqueue.Delivery) {
	if err := w.reader.Ack(ctx, d.ID); err != nil {
		logger.Warn("ack refresh failed", slog.String("error", err.Error()))
	}
}

func (w *StreamWorker) fail(ctx context.Context, logger *slog.Logger, d *taskqueue.Delivery, cause error) {
	action, err := w.reader.HandleFailure(ctx, d, cause)
	if err != nil {
		logger.Error("handle refresh failure failed",
			slog.String("action", string(action)),
			slog.String("error", err.Error()))
		return
	}
	logger.Warn("refresh failed",
		slog.String("action", string(action)),
		slog.String("error", cause.Error()))
}
