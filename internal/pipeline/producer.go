package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"apato/internal/model"
	"apato/internal/pkg/metrics"
	"apato/internal/source"

	"github.com/google/uuid"
)

const (
	DispatchCentral = "central" // 调度器直接处理全部关注列表
	DispatchPool    = "pool"    // 每个关注列表作为 RefreshWatchlist 任务交给消费者池
	DispatchStream  = "stream"  // 刷新请求发布到 Redis Stream，由任意管道进程消费
)

// ProducerConfig 生产者参数。
type ProducerConfig struct {
	FreshnessWindow    time.Duration
	PricingConcurrency int
	DispatchMode       string
}

// Producer 执行 fetch → filter → price → index。
type Producer struct {
	store  Store
	src    Source
	pricer *Pricer
	submit Submitter
	claims Claimer
	pub    Publisher
	logger *slog.Logger
	cfg    ProducerConfig

	// sem 限制全进程并发定价数，所有关注列表共享
	sem chan struct{}
	now func() time.Time
}

func NewProducer(store Store, src Source, pricer *Pricer, submit Submitter, claims Claimer, logger *slog.Logger, cfg ProducerConfig) *Producer {
	if cfg.PricingConcurrency <= 0 {
		cfg.PricingConcurrency = 8
	}
	if cfg.DispatchMode == "" {
		cfg.DispatchMode = DispatchCentral
	}
	return &Producer{
		store:  store,
		src:    src,
		pricer: pricer,
		submit: submit,
		claims: claims,
		logger: logger,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.PricingConcurrency),
		now:    time.Now,
	}
}

// SetPublisher 设置 stream 模式使用的发布者。
func (p *Producer) SetPublisher(pub Publisher) {
	p.pub = pub
}

// passStats 单个关注列表一轮处理的计数。
type passStats struct {
	candidates atomic.Int64
	priced     atomic.Int64
	repriced   atomic.Int64
	linked     atomic.Int64
	enqueued   atomic.Int64

	// attempted 本轮已尝试入队通知的 card，同一轮内每个 card 最多入队一次
	mu        sync.Mutex
	attempted map[int64]struct{}
}

// firstAttempt 记录本轮对 cardID 的入队尝试，已尝试过时返回 false。
func (s *passStats) firstAttempt(cardID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempted[cardID]; ok {
		return false
	}
	if s.attempted == nil {
		s.attempted = make(map[int64]struct{})
	}
	s.attempted[cardID] = struct{}{}
	return true
}

// RunPass 执行一轮生产。
//
// ctx 取消后不再开始新的关注列表或房源，已经开始的网络调用继续完成。
func (p *Producer) RunPass(ctx context.Context) error {
	start := time.Now()
	passID := uuid.NewString()
	logger := p.logger.With(slog.String("pass_id", passID))

	work := context.WithoutCancel(ctx)
	watchlists, err := p.store.GetAllWatchlists(work)
	if err != nil {
		metrics.PipelinePassesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("load watchlists: %w", err)
	}
	logger.Info("pass started",
		slog.Int("watchlists", len(watchlists)),
		slog.String("mode", p.cfg.DispatchMode))

	switch {
	case p.cfg.DispatchMode == DispatchPool:
		p.dispatch(ctx, logger, watchlists)
	case p.cfg.DispatchMode == DispatchStream && p.pub != nil:
		p.publish(ctx, logger, passID, watchlists)
	default:
		var wg sync.WaitGroup
		for i := range watchlists {
			if ctx.Err() != nil {
				logger.Info("shutdown requested, not starting remaining watchlists")
				break
			}
			w := watchlists[i]
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						logger.Error("PANIC in watchlist pass",
							slog.Any("panic", r),
							slog.Uint64("watchlist_id", uint64(w.ID)),
							slog.String("stack", string(debug.Stack())))
					}
				}()
				if err := p.processWatchlist(ctx, context.WithoutCancel(ctx), logger, &w); err != nil {
					logger.Error("watchlist pass failed",
						slog.Uint64("watchlist_id", uint64(w.ID)),
						slog.String("error", err.Error()))
				}
			}()
		}
		wg.Wait()
	}

	metrics.PipelinePassesTotal.WithLabelValues("ok").Inc()
	metrics.PipelinePassDuration.Observe(time.Since(start).Seconds())
	logger.Info("pass finished", slog.Duration("took", time.Since(start)))
	return nil
}

// dispatch 把每个关注列表作为 RefreshWatchlist 任务提交。
func (p *Producer) dispatch(ctx context.Context, logger *slog.Logger, watchlists []model.Watchlist) {
	for _, w := range watchlists {
		if ctx.Err() != nil {
			return
		}
		if err := p.submit.Submit(RefreshWatchlist{Watchlist: w}); err != nil {
			logger.Warn("submit refresh task failed",
				slog.Uint64("watchlist_id", uint64(w.ID)),
				slog.String("error", err.Error()))
		}
	}
}

// publish 为每个关注列表发布一条刷新消息。
func (p *Producer) publish(ctx context.Context, logger *slog.Logger, passID string, watchlists []model.Watchlist) {
	for _, w := range watchlists {
		if ctx.Err() != nil {
			return
		}
		if err := p.pub.PublishRefresh(ctx, w.ID, passID); err != nil {
			logger.Warn("publish refresh failed",
				slog.Uint64("watchlist_id", uint64(w.ID)),
				slog.String("error", err.Error()))
		}
	}
}

// ProcessWatchlist 处理单个关注列表。
//
// stop 取消后不再开始新的房源；已经开始的网络与存储调用使用 work 完成。
func (p *Producer) ProcessWatchlist(stop, work context.Context, w *model.Watchlist) error {
	return p.processWatchlist(stop, work, p.logger, w)
}

func (p *Producer) processWatchlist(ctx, work context.Context, logger *slog.Logger, w *model.Watchlist) error {
	logger = logger.With(slog.Uint64("watchlist_id", uint64(w.ID)))
	if ctx.Err() != nil {
		logger.Info("shutdown requested, skipping watchlist")
		return nil
	}
	var stats passStats

	cards, err := p.src.Search(work, source.QueryFor(w))
	if err != nil {
		return fmt.Errorf("search watchlist %d: %w", w.ID, err)
	}

	seen := make(map[int64]struct{}, len(cards))
	var wg sync.WaitGroup
	for _, card := range cards {
		if !w.MatchesSize(card.Size) {
			continue
		}
		if _, dup := seen[card.ID]; dup {
			continue
		}
		seen[card.ID] = struct{}{}

		existing, err := p.store.GetListing(work, card.ID)
		if err != nil {
			logger.Error("lookup listing failed", slog.Int64("card_id", card.ID), slog.String("error", err.Error()))
			continue
		}

		if existing == nil {
			link, err := p.store.GetLink(work, w.ID, card.ID)
			if err != nil {
				logger.Error("lookup link failed", slog.Int64("card_id", card.ID), slog.String("error", err.Error()))
				continue
			}
			if link != nil && link.Sent {
				continue
			}
			stats.candidates.Add(1)
			if !p.spawn(ctx, &wg, func() { p.priceNew(work, logger, w, card, &stats) }) {
				break
			}
			continue
		}

		if !existing.IsFresh(p.now(), p.cfg.FreshnessWindow) {
			if !p.spawn(ctx, &wg, func() { p.refresh(work, logger, w, existing, &stats) }) {
				break
			}
			continue
		}
		p.link(work, logger, w, existing, &stats)
	}
	wg.Wait()

	if ctx.Err() == nil {
		p.refreshStale(ctx, work, logger, w, seen, &stats)
	}
	p.requeueUnsent(work, logger, w, &stats)

	logger.Info("watchlist processed",
		slog.Int("cards", len(cards)),
		slog.Int64("candidates", stats.candidates.Load()),
		slog.Int64("priced", stats.priced.Load()),
		slog.Int64("repriced", stats.repriced.Load()),
		slog.Int64("linked", stats.linked.Load()),
		slog.Int64("enqueued", stats.enqueued.Load()))
	return nil
}

// spawn 获取定价许可后在新 goroutine 中执行 fn。ctx 已取消时返回 false。
func (p *Producer) spawn(ctx context.Context, wg *sync.WaitGroup, fn func()) bool {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	if ctx.Err() != nil {
		<-p.sem
		return false
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("PANIC in pricing",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
		}()
		fn()
	}()
	return true
}

// priceNew 定价并持久化一个新房源。
func (p *Producer) priceNew(ctx context.Context, logger *slog.Logger, w *model.Watchlist, card source.Card, stats *passStats) {
	l := p.pricer.PriceCard(ctx, w, card)
	stats.priced.Add(1)

	inserted, err := p.store.InsertListing(ctx, &l)
	if err != nil {
		logger.Error("insert listing failed", slog.Int64("card_id", card.ID), slog.String("error", err.Error()))
		return
	}
	if !inserted {
		// 其他关注列表在同一轮已经插入，使用已存储的版本
		stored, err := p.store.GetListing(ctx, card.ID)
		if err != nil || stored == nil {
			logger.Error("listing vanished after conflicting insert", slog.Int64("card_id", card.ID))
			return
		}
		l = *stored
	}

	logger.Debug("listing priced",
		slog.Int64("card_id", l.CardID),
		slog.Int("price", l.Price),
		slog.Int("rent", l.Rent),
		slog.Float64("yield", l.EstimatedYield))
	p.link(ctx, logger, w, &l, stats)
}

// refresh 重新估算过期房源的租金与收益率。
func (p *Producer) refresh(ctx context.Context, logger *slog.Logger, w *model.Watchlist, l *model.Listing, stats *passStats) {
	rent, y := p.pricer.Reprice(ctx, w, l)
	if err := p.store.UpdateRentAndYield(ctx, l.CardID, rent, y); err != nil {
		logger.Error("update listing failed", slog.Int64("card_id", l.CardID), slog.String("error", err.Error()))
		return
	}
	stats.repriced.Add(1)

	updated := *l
	updated.Rent = rent
	updated.EstimatedYield = y
	p.link(ctx, logger, w, &updated, stats)
}

// refreshStale 重新定价本轮搜索中未出现的过期房源。
func (p *Producer) refreshStale(ctx, work context.Context, logger *slog.Logger, w *model.Watchlist, seen map[int64]struct{}, stats *passStats) {
	stale, err := p.store.StaleListings(work, w, p.cfg.FreshnessWindow)
	if err != nil {
		logger.Error("load stale listings failed", slog.String("error", err.Error()))
		return
	}

	var wg sync.WaitGroup
	for i := range stale {
		if _, ok := seen[stale[i].CardID]; ok {
			continue
		}
		l := stale[i]
		if !p.spawn(ctx, &wg, func() { p.refresh(work, logger, w, &l, stats) }) {
			break
		}
	}
	wg.Wait()
}

// link 收益率达标时建立关联，新建关联时入队通知。
func (p *Producer) link(ctx context.Context, logger *slog.Logger, w *model.Watchlist, l *model.Listing, stats *passStats) {
	if !w.Qualifies(l.EstimatedYield) {
		return
	}
	created, err := p.store.InsertLink(ctx, w.ID, l.CardID)
	if err != nil {
		logger.Error("insert link failed", slog.Int64("card_id", l.CardID), slog.String("error", err.Error()))
		return
	}
	if !created {
		return
	}
	metrics.LinksCreatedTotal.Inc()
	stats.linked.Add(1)
	logger.Info("listing qualifies",
		slog.Int64("card_id", l.CardID),
		slog.Float64("yield", l.EstimatedYield),
		slog.Float64("target", w.TargetYield))

	if p.enqueueNotify(ctx, logger, w, l.CardID, stats) {
		stats.enqueued.Add(1)
	}
}

// requeueUnsent 重新入队之前未成功发送的通知。本轮已经尝试过的 card 留到下一轮。
func (p *Producer) requeueUnsent(ctx context.Context, logger *slog.Logger, w *model.Watchlist, stats *passStats) {
	links, err := p.store.UnsentLinks(ctx, w.ID)
	if err != nil {
		logger.Error("load unsent links failed", slog.String("error", err.Error()))
		return
	}
	for _, link := range links {
		if p.enqueueNotify(ctx, logger, w, link.CardID, stats) {
			stats.enqueued.Add(1)
		}
	}
}

// enqueueNotify 认领后提交 NotifyListing。本轮已尝试过、已有待处理任务或提交失败时返回 false。
func (p *Producer) enqueueNotify(ctx context.Context, logger *slog.Logger, w *model.Watchlist, cardID int64, stats *passStats) bool {
	if !stats.firstAttempt(cardID) {
		return false
	}
	ok, err := p.claims.Claim(ctx, w.ID, cardID)
	if err != nil {
		logger.Warn("claim notify task failed", slog.Int64("card_id", cardID), slog.String("error", err.Error()))
		return false
	}
	if !ok {
		metrics.TaskDuplicatePreventedTotal.Inc()
		return false
	}

	if err := p.submit.Submit(NotifyListing{Watchlist: *w, CardID: cardID}); err != nil {
		if relErr := p.claims.Release(ctx, w.ID, cardID); relErr != nil {
			logger.Warn("release claim failed", slog.Int64("card_id", cardID), slog.String("error", relErr.Error()))
		}
		logger.Warn("submit notify task failed", slog.Int64("card_id", cardID), slog.String("error", err.Error()))
		return false
	}
	metrics.NotifyTasksEnqueuedTotal.Inc()
	return true
}
