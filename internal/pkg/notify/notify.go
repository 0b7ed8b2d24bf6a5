package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"apato/internal/model"
)

// ErrNoChannel 目标地址没有对应的通知渠道。
var ErrNoChannel = errors.New("notify: no channel for destination")

// Notifier 定义通知接口。
type Notifier interface {
	// Send 向 destination 发送一条文本消息。
	Send(ctx context.Context, destination, text string) error
}

// Router 按目标地址前缀选择通知渠道。
//
// "telegram:123" 发送到 telegram 渠道的 "123"，"mailto:a@b.c" 发送到 mailto 渠道，
// 没有前缀的地址使用默认渠道。
type Router struct {
	channels       map[string]Notifier
	defaultChannel string
}

// NewRouter 创建路由器。defaultChannel 为空时无前缀地址会返回 ErrNoChannel。
func NewRouter(defaultChannel string) *Router {
	return &Router{
		channels:       make(map[string]Notifier),
		defaultChannel: defaultChannel,
	}
}

// Register 注册渠道，nil 会被忽略。
func (r *Router) Register(scheme string, n Notifier) {
	if n == nil {
		return
	}
	r.channels[scheme] = n
}

// Send 实现 Notifier。
func (r *Router) Send(ctx context.Context, destination, text string) error {
	scheme, addr := SplitDestination(destination)
	if scheme == "" {
		scheme = r.defaultChannel
	}
	n, ok := r.channels[scheme]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoChannel, destination)
	}
	return n.Send(ctx, addr, text)
}

// SplitDestination 拆分 "scheme:address"。无已知前缀时 scheme 为空。
func SplitDestination(destination string) (scheme, addr string) {
	destination = strings.TrimSpace(destination)
	if i := strings.IndexByte(destination, ':'); i > 0 {
		switch s := strings.ToLower(destination[:i]); s {
		case "telegram", "mailto":
			return s, destination[i+1:]
		}
	}
	return "", destination
}

// FormatListing 生成一条房源通知文本。
func FormatListing(w *model.Watchlist, l *model.Listing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New listing in %s\n", l.LocationName)
	fmt.Fprintf(&b, "Estimated yield: %.2f%% (target %.2f%%)\n", l.EstimatedYield, w.TargetYield)
	fmt.Fprintf(&b, "Price: %s €", formatEUR(l.Price))
	if l.AdditionalCosts > 0 {
		fmt.Fprintf(&b, " + %s € additional costs", formatEUR(l.AdditionalCosts))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Size: %.1f m², rooms: %d\n", l.Size, l.Rooms)
	if l.Rent > 0 {
		fmt.Fprintf(&b, "Estimated rent: %s €/month\n", formatEUR(l.Rent))
	}
	b.WriteString(l.URL)
	return b.String()
}

// formatEUR 千位分隔，使用空格。
func formatEUR(v int) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d", v)
	n := len(s)
	out := make([]byte, 0, n+n/3+1)
	if neg {
		out = append(out, '-')
	}
	for i, ch := range []byte(s) {
		out = append(out, ch)
		if (n-i-1)%3 == 0 && i != n-1 {
			out = append(out, ' ')
		}
	}
	return string(out)
}
