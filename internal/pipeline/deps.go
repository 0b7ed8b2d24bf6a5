package pipeline

import (
	"context"
	"time"

	"apato/internal/model"
	"apato/internal/source"
	"apato/internal/yield"
)

// Store 是管道使用的持久化操作，由 store.Store 实现。
type Store interface {
	GetAllWatchlists(ctx context.Context) ([]model.Watchlist, error)
	GetWatchlist(ctx context.Context, id uint) (*model.Watchlist, error)

	GetListing(ctx context.Context, cardID int64) (*model.Listing, error)
	InsertListing(ctx context.Context, l *model.Listing) (bool, error)
	UpdateRentAndYield(ctx context.Context, cardID int64, rent int, estimatedYield float64) error
	StaleListings(ctx context.Context, w *model.Watchlist, window time.Duration) ([]model.Listing, error)

	GetLink(ctx context.Context, watchlistID uint, cardID int64) (*model.WatchlistListingLink, error)
	InsertLink(ctx context.Context, watchlistID uint, cardID int64) (bool, error)
	MarkSent(ctx context.Context, watchlistID uint, cardID int64) (bool, error)
	UnsentLinks(ctx context.Context, watchlistID uint) ([]model.WatchlistListingLink, error)
}

// Source 房源平台，由 source.Client 实现。
type Source interface {
	Search(ctx context.Context, q source.Query) ([]source.Card, error)
	SearchRentals(ctx context.Context, q source.Query) ([]yield.Comparable, error)
	FetchDetail(ctx context.Context, cardID int64) (source.Detail, error)
}

// RateProvider 提供房贷年利率（百分比），由 source.RateClient 实现。
type RateProvider interface {
	InterestRate(ctx context.Context) float64
}

// Claimer 防止同一 (watchlist, card) 同时存在多个待发送任务，由 dedup.Claims 实现。
type Claimer interface {
	Claim(ctx context.Context, watchlistID uint, cardID int64) (bool, error)
	Release(ctx context.Context, watchlistID uint, cardID int64) error
}

// Submitter 接收任务，由 Pool 实现。
type Submitter interface {
	Submit(t Task) error
}

// Publisher 发布跨进程的刷新请求，由 taskqueue.Publisher 实现。
type Publisher interface {
	PublishRefresh(ctx context.Context, watchlistID uint, passID string) error
}
