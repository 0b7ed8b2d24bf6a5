package store

import (
	"context"
	"errors"
	"fmt"

	"apato/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetLink 查询关联，不存在时返回 (nil, nil)。
func (s *Store) GetLink(ctx context.Context, watchlistID uint, cardID int64) (*model.WatchlistListingLink, error) {
	var link model.WatchlistListingLink
	err := s.db.WithContext(ctx).Where("watchlist_id = ? AND card_id = ?", watchlistID, cardID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return &link, nil
}

// LinkExists 判断关联是否存在。
func (s *Store) LinkExists(ctx context.Context, watchlistID uint, cardID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.WatchlistListingLink{}).
		Where("watchlist_id = ? AND card_id = ?", watchlistID, cardID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("link exists: %w", err)
	}
	return n > 0, nil
}

// InsertLink 插入未发送的关联。已存在时不修改并返回 false。
func (s *Store) InsertLink(ctx context.Context, watchlistID uint, cardID int64) (bool, error) {
	link := &model.WatchlistListingLink{WatchlistID: watchlistID, CardID: cardID}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "watchlist_id"}, {Name: "card_id"}},
		DoNothing: true,
	}).Create(link)
	if res.Error != nil {
		return false, fmt.Errorf("insert link: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkSent 将 sent 从 false 置为 true。已经是 true 时返回 false。
func (s *Store) MarkSent(ctx context.Context, watchlistID uint, cardID int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.WatchlistListingLink{}).
		Where("watchlist_id = ? AND card_id = ? AND sent = ?", watchlistID, cardID, false).
		Updates(map[string]any{"sent": true, "updated_at": s.now()})
	if res.Error != nil {
		return false, fmt.Errorf("mark sent: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UnsentLinks 返回关注列表尚未发送的关联。
func (s *Store) UnsentLinks(ctx context.Context, watchlistID uint) ([]model.WatchlistListingLink, error) {
	var out []model.WatchlistListingLink
	err := s.db.WithContext(ctx).
		Where("watchlist_id = ? AND sent = ?", watchlistID, false).
		Order("card_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("unsent links: %w", err)
	}
	return out, nil
}
