package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"apato/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetListing 按 CardID 查询，不存在时返回 (nil, nil)。
func (s *Store) GetListing(ctx context.Context, cardID int64) (*model.Listing, error) {
	var l model.Listing
	err := s.db.WithContext(ctx).Where("card_id = ?", cardID).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %d: %w", cardID, err)
	}
	return &l, nil
}

// InsertListing 插入房源，CardID 已存在时不做任何修改并返回 false。
func (s *Store) InsertListing(ctx context.Context, l *model.Listing) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "card_id"}},
		DoNothing: true,
	}).Create(l)
	if res.Error != nil {
		return false, fmt.Errorf("insert listing %d: %w", l.CardID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateRentAndYield 重新定价后更新租金与收益率，同时刷新 UpdatedAt。
func (s *Store) UpdateRentAndYield(ctx context.Context, cardID int64, rent int, estimatedYield float64) error {
	res := s.db.WithContext(ctx).Model(&model.Listing{}).Where("card_id = ?", cardID).Updates(map[string]any{
		"rent":            rent,
		"estimated_yield": estimatedYield,
		"updated_at":      s.now(),
	})
	if res.Error != nil {
		return fmt.Errorf("update listing %d: %w", cardID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update listing %d: %w", cardID, gorm.ErrRecordNotFound)
	}
	return nil
}

// IsFresh 房源存在且在 window 内定价过。
func (s *Store) IsFresh(ctx context.Context, cardID int64, window time.Duration) (bool, error) {
	l, err := s.GetListing(ctx, cardID)
	if err != nil || l == nil {
		return false, err
	}
	return l.IsFresh(s.now(), window), nil
}

// StaleListings 返回关注列表范围内超出新鲜度窗口的房源。
func (s *Store) StaleListings(ctx context.Context, w *model.Watchlist, window time.Duration) ([]model.Listing, error) {
	var out []model.Listing
	q := s.scope(ctx, w).Where("updated_at < ?", s.now().Add(-window))
	if err := q.Order("card_id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("stale listings: %w", err)
	}
	return out, nil
}

// ListingsFor 返回关注列表范围内的房源。matchingOnly 时只返回达到目标收益率的房源。
func (s *Store) ListingsFor(ctx context.Context, w *model.Watchlist, matchingOnly bool) ([]model.Listing, error) {
	var out []model.Listing
	q := s.scope(ctx, w)
	if matchingOnly {
		q = q.Where("estimated_yield > 0 AND estimated_yield >= ?", w.TargetYield)
	}
	if err := q.Order("estimated_yield DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listings for watchlist %d: %w", w.ID, err)
	}
	return out, nil
}

// scope 区域与面积区间过滤。
func (s *Store) scope(ctx context.Context, w *model.Watchlist) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&model.Listing{}).
		Where("location_id = ? AND location_level = ?", w.LocationID, w.LocationLevel)
	if w.TargetSizeMin > 0 {
		q = q.Where("size >= ?", w.TargetSizeMin)
	}
	if w.TargetSizeMax > 0 {
		q = q.Where("size <= ?", w.TargetSizeMax)
	}
	return q
}
