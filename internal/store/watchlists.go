package store

import (
	"context"
	"errors"
	"fmt"

	"apato/internal/model"

	"gorm.io/gorm"
)

// GetAllWatchlists 返回全部关注列表。
func (s *Store) GetAllWatchlists(ctx context.Context) ([]model.Watchlist, error) {
	var out []model.Watchlist
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("get watchlists: %w", err)
	}
	return out, nil
}

// GetWatchlist 按 ID 查询，不存在时返回 (nil, nil)。
func (s *Store) GetWatchlist(ctx context.Context, id uint) (*model.Watchlist, error) {
	var w model.Watchlist
	err := s.db.WithContext(ctx).First(&w, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watchlist %d: %w", id, err)
	}
	return &w, nil
}

// GetWatchlistsByDestination 返回某个通知地址的全部关注列表。
func (s *Store) GetWatchlistsByDestination(ctx context.Context, destination string) ([]model.Watchlist, error) {
	var out []model.Watchlist
	if err := s.db.WithContext(ctx).Where("destination = ?", destination).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("get watchlists by destination: %w", err)
	}
	return out, nil
}

// FindWatchlist 按通知地址和区域查询，不存在时返回 (nil, nil)。
func (s *Store) FindWatchlist(ctx context.Context, destination string, locationID, locationLevel int) (*model.Watchlist, error) {
	var w model.Watchlist
	err := s.db.WithContext(ctx).
		Where("destination = ? AND location_id = ? AND location_level = ?", destination, locationID, locationLevel).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find watchlist: %w", err)
	}
	return &w, nil
}

// CreateWatchlist 新建关注列表，成功后 w.ID 被填充。
func (s *Store) CreateWatchlist(ctx context.Context, w *model.Watchlist) error {
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		return fmt.Errorf("create watchlist: %w", err)
	}
	return nil
}

// UpdateYieldThreshold 更新目标收益率。
func (s *Store) UpdateYieldThreshold(ctx context.Context, id uint, targetYield float64) error {
	res := s.db.WithContext(ctx).Model(&model.Watchlist{}).Where("id = ?", id).Update("target_yield", targetYield)
	if res.Error != nil {
		return fmt.Errorf("update yield threshold: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update yield threshold: watchlist %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// DeleteWatchlist 删除关注列表及其关联。
func (s *Store) DeleteWatchlist(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("watchlist_id = ?", id).Delete(&model.WatchlistListingLink{}).Error; err != nil {
			return fmt.Errorf("delete links: %w", err)
		}
		if err := tx.Delete(&model.Watchlist{}, id).Error; err != nil {
			return fmt.Errorf("delete watchlist: %w", err)
		}
		return nil
	})
}
