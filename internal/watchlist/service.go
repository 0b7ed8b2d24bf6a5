package watchlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"apato/internal/model"
)

var (
	// ErrNotFound 关注列表不存在。
	ErrNotFound = errors.New("watchlist: not found")
	// ErrNotOwner 关注列表不属于请求方。
	ErrNotOwner = errors.New("watchlist: not owner")
	// ErrInvalid 订阅参数不合法。
	ErrInvalid = errors.New("watchlist: invalid subscription")
)

// Store 订阅服务依赖的存储接口。
type Store interface {
	GetWatchlist(ctx context.Context, id uint) (*model.Watchlist, error)
	GetWatchlistsByDestination(ctx context.Context, destination string) ([]model.Watchlist, error)
	FindWatchlist(ctx context.Context, destination string, locationID, locationLevel int) (*model.Watchlist, error)
	CreateWatchlist(ctx context.Context, w *model.Watchlist) error
	UpdateYieldThreshold(ctx context.Context, id uint, targetYield float64) error
	DeleteWatchlist(ctx context.Context, id uint) error
	ListingsFor(ctx context.Context, w *model.Watchlist, matchingOnly bool) ([]model.Listing, error)
}

// Subscription 一次订阅请求。
type Subscription struct {
	Destination   string  `json:"destination" yaml:"destination"`
	LocationID    int     `json:"location_id" yaml:"location_id"`
	LocationLevel int     `json:"location_level" yaml:"location_level"`
	LocationName  string  `json:"location_name" yaml:"location_name"`
	SizeMin       int     `json:"size_min" yaml:"size_min"`
	SizeMax       int     `json:"size_max" yaml:"size_max"`
	TargetYield   float64 `json:"target_yield" yaml:"target_yield"`
}

// Validate 检查订阅参数。
func (s Subscription) Validate() error {
	switch {
	case strings.TrimSpace(s.Destination) == "":
		return fmt.Errorf("%w: destination is required", ErrInvalid)
	case s.LocationID <= 0:
		return fmt.Errorf("%w: location_id must be positive", ErrInvalid)
	case s.SizeMin < 0 || s.SizeMax < 0:
		return fmt.Errorf("%w: size bounds must not be negative", ErrInvalid)
	case s.SizeMax > 0 && s.SizeMin > s.SizeMax:
		return fmt.Errorf("%w: size_min exceeds size_max", ErrInvalid)
	case s.TargetYield < 0:
		return fmt.Errorf("%w: target_yield must not be negative", ErrInvalid)
	}
	return nil
}

// Service 管理关注列表的订阅。
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Subscribe 订阅某个区域。
//
// 同一通知地址已订阅该区域时只更新目标收益率，返回的 created 为 false。
func (s *Service) Subscribe(ctx context.Context, sub Subscription) (w *model.Watchlist, created bool, err error) {
	if err := sub.Validate(); err != nil {
		return nil, false, err
	}
	sub.Destination = strings.TrimSpace(sub.Destination)

	existing, err := s.store.FindWatchlist(ctx, sub.Destination, sub.LocationID, sub.LocationLevel)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if err := s.store.UpdateYieldThreshold(ctx, existing.ID, sub.TargetYield); err != nil {
			return nil, false, err
		}
		existing.TargetYield = sub.TargetYield
		s.logger.Info("watchlist yield updated",
			slog.Uint64("watchlist_id", uint64(existing.ID)),
			slog.Float64("target_yield", sub.TargetYield))
		return existing, false, nil
	}

	w = &model.Watchlist{
		LocationID:    sub.LocationID,
		LocationLevel: sub.LocationLevel,
		LocationName:  sub.LocationName,
		TargetSizeMin: sub.SizeMin,
		TargetSizeMax: sub.SizeMax,
		TargetYield:   sub.TargetYield,
		Destination:   sub.Destination,
	}
	if err := s.store.CreateWatchlist(ctx, w); err != nil {
		return nil, false, err
	}
	s.logger.Info("watchlist created",
		slog.Uint64("watchlist_id", uint64(w.ID)),
		slog.String("location", w.LocationName),
		slog.String("destination", w.Destination))
	return w, true, nil
}

// List 返回某个通知地址的全部关注列表。
func (s *Service) List(ctx context.Context, destination string) ([]model.Watchlist, error) {
	return s.store.GetWatchlistsByDestination(ctx, strings.TrimSpace(destination))
}

// Get 返回 destination 拥有的关注列表。
func (s *Service) Get(ctx context.Context, id uint, destination string) (*model.Watchlist, error) {
	w, err := s.store.GetWatchlist(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrNotFound
	}
	if w.Destination != strings.TrimSpace(destination) {
		return nil, ErrNotOwner
	}
	return w, nil
}

// Delete 删除关注列表，只允许所属通知地址删除。
func (s *Service) Delete(ctx context.Context, id uint, destination string) error {
	if _, err := s.Get(ctx, id, destination); err != nil {
		return err
	}
	if err := s.store.DeleteWatchlist(ctx, id); err != nil {
		return err
	}
	s.logger.Info("watchlist deleted", slog.Uint64("watchlist_id", uint64(id)))
	return nil
}

// Listings 返回关注列表范围内的房源，matchingOnly 时只返回达到目标收益率的房源。
func (s *Service) Listings(ctx context.Context, id uint, destination string, matchingOnly bool) ([]model.Listing, error) {
	w, err := s.Get(ctx, id, destination)
	if err != nil {
		return nil, err
	}
	return s.store.ListingsFor(ctx, w, matchingOnly)
}
