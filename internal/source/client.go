package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"apato/internal/config"
	"apato/internal/pkg/metrics"
	"apato/internal/pkg/ratelimit"
)

var (
	// ErrUnauthorized 刷新令牌后仍然返回 401。
	ErrUnauthorized = errors.New("source: unauthorized")
	// ErrStatus 非 2xx 响应。
	ErrStatus = errors.New("source: unexpected status")
)

// tokens 是平台要求的会话头。
type tokens struct {
	loaded string
	cuid   string
	token  string
}

// Client 房源平台客户端。
//
// 会话令牌在第一次请求时懒加载；收到 401 时刷新一次并重试一次。
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   ratelimit.Limiter
	logger    *slog.Logger

	mu     sync.Mutex
	tokens *tokens
}

// New 创建房源客户端。limiter 可以为 nil。
func New(cfg config.SourceConfig, limiter ratelimit.Limiter, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: timeout},
		limiter:   limiter,
		logger:    logger,
	}
}

// session 返回当前令牌，必要时先获取。
func (c *Client) session(ctx context.Context) (*tokens, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens != nil {
		return c.tokens, nil
	}
	t, err := c.fetchTokens(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SourceTokenRefreshTotal.WithLabelValues("initial").Inc()
	c.tokens = t
	return t, nil
}

// refresh 在 stale 仍是当前令牌时重新获取，否则直接返回其他请求已经刷新好的令牌。
func (c *Client) refresh(ctx context.Context, stale *tokens) (*tokens, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens != nil && c.tokens != stale {
		return c.tokens, nil
	}
	t, err := c.fetchTokens(ctx)
	if err != nil {
		c.tokens = nil
		return nil, err
	}
	metrics.SourceTokenRefreshTotal.WithLabelValues("unauthorized").Inc()
	c.tokens = t
	return t, nil
}

type userResponse struct {
	User struct {
		CUID  string     `json:"cuid"`
		Token string     `json:"token"`
		Time  flexNumber `json:"time"`
	} `json:"user"`
}

func (c *Client) fetchTokens(ctx context.Context) (*tokens, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("rand", strconv.Itoa(15000+rand.Intn(55000)))
	u := c.baseURL + "/user/get?" + q.Encode()

	c.logger.Info("fetching source tokens")
	body, status, err := c.doGET(ctx, "tokens", u, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch tokens: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("fetch tokens: %w: %d", ErrStatus, status)
	}

	var resp userResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse tokens: %w", err)
	}
	if resp.User.Token == "" {
		return nil, fmt.Errorf("parse tokens: empty token")
	}
	return &tokens{
		loaded: strconv.FormatInt(int64(resp.User.Time), 10),
		cuid:   resp.User.CUID,
		token:  resp.User.Token,
	}, nil
}

// getJSON 带令牌的 GET 请求并解码 JSON。
func (c *Client) getJSON(ctx context.Context, endpoint, u string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	t, err := c.session(ctx)
	if err != nil {
		return err
	}

	body, status, err := c.doGET(ctx, endpoint, u, t)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		c.logger.Warn("source unauthorized, refreshing tokens", slog.String("endpoint", endpoint))
		if t, err = c.refresh(ctx, t); err != nil {
			return err
		}
		if body, status, err = c.doGET(ctx, endpoint, u, t); err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return ErrUnauthorized
		}
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%s: %w: %d", endpoint, ErrStatus, status)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s payload parse: %w", endpoint, err)
	}
	return nil
}

func (c *Client) doGET(ctx context.Context, endpoint, u string, t *tokens) ([]byte, int, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if t != nil {
		req.Header.Set("ota-loaded", t.loaded)
		req.Header.Set("ota-cuid", t.cuid)
		req.Header.Set("ota-token", t.token)
	}

	resp, err := c.http.Do(req)
	metrics.SourceRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, 0, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	metrics.SourceRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%s read body: %w", endpoint, err)
	}
	return b, resp.StatusCode, nil
}
