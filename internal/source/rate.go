package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// RateClient 查询房贷利率，失败时使用备用利率。
type RateClient struct {
	url      string
	fallback float64
	ttl      time.Duration
	http     *http.Client
	logger   *slog.Logger

	mu        sync.Mutex
	cached    float64
	fetchedAt time.Time
}

// NewRateClient 创建利率客户端。url 为空时总是返回 fallback。
func NewRateClient(url string, fallback float64, timeout time.Duration, logger *slog.Logger) *RateClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &RateClient{
		url:      url,
		fallback: fallback,
		ttl:      time.Hour,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type mortgageResponse struct {
	Mortgages []struct {
		InterestRate flexNumber `json:"interest_rate"`
	} `json:"mortgages"`
}

// InterestRate 返回年利率（百分比）。结果缓存一小时。
func (r *RateClient) InterestRate(ctx context.Context) float64 {
	if r.url == "" {
		return r.fallback
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fetchedAt.IsZero() && time.Since(r.fetchedAt) < r.ttl {
		return r.cached
	}

	rate, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn("interest rate lookup failed, using fallback",
			slog.Float64("fallback", r.fallback),
			slog.String("error", err.Error()))
		return r.fallback
	}
	r.cached = rate
	r.fetchedAt = time.Now()
	return rate
}

func (r *RateClient) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("interest rate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("interest rate: %w: %d", ErrStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("interest rate read body: %w", err)
	}

	var out mortgageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("interest rate payload parse: %w", err)
	}
	if len(out.Mortgages) == 0 || out.Mortgages[0].InterestRate <= 0 {
		return 0, fmt.Errorf("interest rate payload: no mortgages")
	}
	return float64(out.Mortgages[0].InterestRate), nil
}
