package pipeline

import (
	"apato/internal/model"
)

// Task 是消费者池处理的任务，只有 RefreshWatchlist 和 NotifyListing 两种。
type Task interface {
	Kind() string
	isTask()
}

// RefreshWatchlist 为一个关注列表重新执行生产逻辑。
type RefreshWatchlist struct {
	Watchlist model.Watchlist
}

func (RefreshWatchlist) Kind() string { return "refresh_watchlist" }
func (RefreshWatchlist) isTask()      {}

// NotifyListing 发送一条房源通知并标记已发送。
type NotifyListing struct {
	Watchlist model.Watchlist
	CardID    int64
}

func (NotifyListing) Kind() string { return "notify_listing" }
func (NotifyListing) isTask()      {}
