package pipeline

import (
	"context"
	"log/slog"

	"apato/internal/model"
	"apato/internal/pkg/metrics"
	"apato/internal/source"
	"apato/internal/yield"
)

// Pricer 为房源估算租金并计算收益率。
//
// 任何外部调用失败都只会让对应字段为 0，最终收益率为 0 的房源不会触发通知。
type Pricer struct {
	src       Source
	rates     RateProvider
	params    yield.Params
	tolerance float64
	logger    *slog.Logger
}

func NewPricer(src Source, rates RateProvider, params yield.Params, tolerance float64, logger *slog.Logger) *Pricer {
	if tolerance <= 0 {
		tolerance = yield.DefaultRentTolerance
	}
	return &Pricer{
		src:       src,
		rates:     rates,
		params:    params,
		tolerance: tolerance,
		logger:    logger,
	}
}

// PriceCard 为搜索结果中的新房源定价。
func (p *Pricer) PriceCard(ctx context.Context, w *model.Watchlist, card source.Card) model.Listing {
	detail, err := p.src.FetchDetail(ctx, card.ID)
	if err != nil {
		p.logger.Warn("fetch detail failed, using defaults",
			slog.Int64("card_id", card.ID),
			slog.String("error", err.Error()))
		detail = source.Detail{CardID: card.ID}
	}

	price := detail.Price
	if price <= 0 {
		price = source.ParseAmount(card.Price)
	}

	l := model.Listing{
		CardID:          card.ID,
		LocationID:      w.LocationID,
		LocationLevel:   w.LocationLevel,
		LocationName:    w.LocationName,
		Size:            card.Size,
		Rooms:           card.Rooms,
		Price:           price,
		AdditionalCosts: detail.MaintenanceFee,
		URL:             card.URL,
	}
	l.Rent = p.estimateRent(ctx, source.QueryFor(w), card.Size)
	l.EstimatedYield = p.yield(ctx, &l)

	metrics.ListingsPricedTotal.WithLabelValues("new").Inc()
	return l
}

// Reprice 重新估算已有房源的租金和收益率，不重新抓取详情。
// 参照租房取房源所在区域、关注列表面积范围内的出租房源。
func (p *Pricer) Reprice(ctx context.Context, w *model.Watchlist, l *model.Listing) (rent int, estimatedYield float64) {
	q := source.Query{
		Location: source.Location{ID: l.LocationID, Level: l.LocationLevel, Name: l.LocationName},
		SizeMin:  w.TargetSizeMin,
		SizeMax:  w.TargetSizeMax,
	}
	updated := *l
	updated.Rent = p.estimateRent(ctx, q, l.Size)
	updated.EstimatedYield = p.yield(ctx, &updated)

	metrics.ListingsPricedTotal.WithLabelValues("refresh").Inc()
	return updated.Rent, updated.EstimatedYield
}

func (p *Pricer) estimateRent(ctx context.Context, q source.Query, size float64) int {
	comparables, err := p.src.SearchRentals(ctx, q)
	if err != nil {
		p.logger.Warn("search rentals failed",
			slog.Int("location_id", q.Location.ID),
			slog.String("error", err.Error()))
		return 0
	}
	return yield.EstimateRent(size, comparables, p.tolerance)
}

func (p *Pricer) yield(ctx context.Context, l *model.Listing) float64 {
	rate := p.rates.InterestRate(ctx)
	y := p.params.IRR(float64(l.Price), float64(l.Rent), float64(l.AdditionalCosts), rate)
	if y == 0 {
		metrics.YieldZeroTotal.Inc()
	}
	return y
}
