package model

import (
	"time"
)

// Watchlist 表示用户的长期关注条件。
//
// 它记录了目标区域、面积区间以及目标收益率。管道只读取 Watchlist，
// 唯一的写操作是更新目标收益率。
type Watchlist struct {
	ID        uint      `gorm:"primaryKey"` // 关注列表唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	LocationID    int    `gorm:"not null;index:idx_watchlist_location"` // 区域 ID
	LocationLevel int    `gorm:"not null;index:idx_watchlist_location"` // 区域层级
	LocationName  string `gorm:"type:varchar(191);not null"`            // 区域名称

	TargetSizeMin int     // 最小面积（0 表示不限）
	TargetSizeMax int     // 最大面积（0 表示不限）
	TargetYield   float64 `gorm:"default:0"` // 目标收益率（百分比）

	Destination string `gorm:"type:varchar(191);not null;index"` // 通知地址，如 "telegram:12345" / "mailto:a@b.c"
}

// MatchesSize 判断面积是否落在关注区间内。
func (w *Watchlist) MatchesSize(size float64) bool {
	if w.TargetSizeMin > 0 && size < float64(w.TargetSizeMin) {
		return false
	}
	if w.TargetSizeMax > 0 && size > float64(w.TargetSizeMax) {
		return false
	}
	return true
}

// Qualifies 判断收益率是否达到关注列表的目标。
//
// 收益率为 0 表示计算不可靠，永远不会触发通知。
func (w *Watchlist) Qualifies(yield float64) bool {
	return yield > 0 && yield >= w.TargetYield
}

// Listing 表示一个已定价并持久化的房源。
//
// CardID 是房源在来源平台的唯一标识，用于去重。
type Listing struct {
	ID        uint      `gorm:"primaryKey"` // 内部 ID
	CreatedAt time.Time // 首次定价时间
	UpdatedAt time.Time // 最近一次定价时间（用于判断新鲜度）

	CardID        int64  `gorm:"uniqueIndex;not null"` // 平台原始 ID (唯一索引)
	LocationID    int    `gorm:"index:idx_listing_location"`
	LocationLevel int    `gorm:"index:idx_listing_location"`
	LocationName  string `gorm:"type:varchar(191)"`

	Size            float64 // 面积 (m²)
	Rooms           int     // 房间数
	Price           int     // 售价
	AdditionalCosts int     // 每月维护费用
	Rent            int     // 估算月租
	EstimatedYield  float64 // 估算收益率（百分比）
	URL             string  `gorm:"type:varchar(512)"` // 房源详情页链接
}

// IsFresh 判断房源在给定时间窗口内是否仍然新鲜。
func (l *Listing) IsFresh(now time.Time, window time.Duration) bool {
	return now.Sub(l.UpdatedAt) <= window
}

// WatchlistListingLink 是关注列表与房源的关联表（去重索引）。
//
// 每个 (WatchlistID, CardID) 最多一行；Sent 只会从 false 变为 true。
type WatchlistListingLink struct {
	WatchlistID uint  `gorm:"primaryKey;autoIncrement:false"` // 关注列表 ID
	CardID      int64 `gorm:"primaryKey;autoIncrement:false"` // 房源 ID

	Sent      bool      `gorm:"not null;default:false;index"` // 是否已发送通知
	CreatedAt time.Time // 关联创建时间
	UpdatedAt time.Time // 更新时间
}
