package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"apato/internal/pkg/metrics"
	"apato/internal/pkg/notify"
)

// Consumer 执行消费者池中的任务。
type Consumer struct {
	store    Store
	notifier notify.Notifier
	producer *Producer
	claims   Claimer
	logger   *slog.Logger
}

func NewConsumer(store Store, notifier notify.Notifier, producer *Producer, claims Claimer, logger *slog.Logger) *Consumer {
	return &Consumer{
		store:    store,
		notifier: notifier,
		producer: producer,
		claims:   claims,
		logger:   logger,
	}
}

type shutdownKey struct{}

// withShutdown 在 ctx 中记录关闭信号。worker 的 ctx 不随信号取消，
// RefreshWatchlist 据此在信号到达后不再开始新的房源。
func withShutdown(ctx, signal context.Context) context.Context {
	if signal == nil {
		return ctx
	}
	return context.WithValue(ctx, shutdownKey{}, signal)
}

// stopContext 返回在 ctx 取消或关闭信号到达时取消的 context。
func stopContext(ctx context.Context) (context.Context, context.CancelFunc) {
	stop, cancel := context.WithCancel(ctx)
	signal, ok := ctx.Value(shutdownKey{}).(context.Context)
	if !ok {
		return stop, cancel
	}
	unregister := context.AfterFunc(signal, cancel)
	if signal.Err() != nil {
		cancel()
	}
	return stop, func() {
		unregister()
		cancel()
	}
}

// Handle 按任务类型分发。ctx 是完成已开始工作的 context，关闭信号通过 withShutdown 传入。
func (c *Consumer) Handle(ctx context.Context, t Task) error {
	switch t := t.(type) {
	case RefreshWatchlist:
		stop, cancel := stopContext(ctx)
		defer cancel()
		return c.producer.ProcessWatchlist(stop, ctx, &t.Watchlist)
	case NotifyListing:
		return c.notify(ctx, t)
	default:
		return fmt.Errorf("unknown task type %T", t)
	}
}

// notify 发送通知，成功后将关联标记为已发送。发送失败时关联保持未发送，由之后的轮次重试。
func (c *Consumer) notify(ctx context.Context, t NotifyListing) error {
	logger := c.logger.With(
		slog.Uint64("watchlist_id", uint64(t.Watchlist.ID)),
		slog.Int64("card_id", t.CardID))

	defer func() {
		if err := c.claims.Release(context.WithoutCancel(ctx), t.Watchlist.ID, t.CardID); err != nil {
			logger.Warn("release claim failed", slog.String("error", err.Error()))
		}
	}()

	listing, err := c.store.GetListing(ctx, t.CardID)
	if err != nil {
		return fmt.Errorf("load listing %d: %w", t.CardID, err)
	}
	if listing == nil {
		logger.Warn("listing not found, dropping notification")
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		return nil
	}

	link, err := c.store.GetLink(ctx, t.Watchlist.ID, t.CardID)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}
	if link == nil {
		logger.Warn("link not found, dropping notification")
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		return nil
	}
	if link.Sent {
		logger.Debug("notification already sent")
		return nil
	}

	text := notify.FormatListing(&t.Watchlist, listing)
	if err := c.notifier.Send(ctx, t.Watchlist.Destination, text); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("send notification: %w", err)
	}

	changed, err := c.store.MarkSent(ctx, t.Watchlist.ID, t.CardID)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if !changed {
		logger.Warn("link was already marked sent")
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	logger.Info("notification sent", slog.String("destination", t.Watchlist.Destination))
	return nil
}
