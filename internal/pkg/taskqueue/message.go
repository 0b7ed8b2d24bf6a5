package taskqueue

import "time"

// Message 表示刷新 Stream 中的一条消息。
//
// 每条消息要求某个进程重新处理一个关注列表。
type Message struct {
	WatchlistID uint      `json:"watchlist_id"` // 关注列表 ID
	PassID      string    `json:"pass_id"`      // 发布该消息的生产轮次
	Timestamp   time.Time `json:"timestamp"`    // 消息创建时间
	Retry       int       `json:"retry"`        // 重试次数
}

// NewRefreshMessage 创建一条刷新关注列表的消息。
func NewRefreshMessage(watchlistID uint, passID string) *Message {
	return &Message{
		WatchlistID: watchlistID,
		PassID:      passID,
		Timestamp:   time.Now(),
	}
}
