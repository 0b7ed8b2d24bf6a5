package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"apato/internal/model"
	"apato/internal/yield"
)

const (
	cardTypeSale   = "100"
	cardTypeRental = "101"
)

// Location 平台上的区域。
type Location struct {
	ID    int
	Level int
	Name  string
}

// LocationOf 返回关注列表对应的区域。
func LocationOf(w *model.Watchlist) Location {
	return Location{ID: w.LocationID, Level: w.LocationLevel, Name: w.LocationName}
}

// String 按平台 locations 参数的格式编码，如 [[64, 6, "Helsinki"]]。
func (l Location) String() string {
	name, _ := json.Marshal(l.Name)
	return fmt.Sprintf("[[%d, %d, %s]]", l.ID, l.Level, name)
}

// Query 房源搜索条件。SizeMin/SizeMax 为 0 表示不限。
type Query struct {
	Location Location
	SizeMin  int
	SizeMax  int
}

// QueryFor 由关注列表生成搜索条件。
func QueryFor(w *model.Watchlist) Query {
	return Query{Location: LocationOf(w), SizeMin: w.TargetSizeMin, SizeMax: w.TargetSizeMax}
}

// Contains 判断面积是否在查询范围内。
func (q Query) Contains(size float64) bool {
	if q.SizeMin > 0 && size < float64(q.SizeMin) {
		return false
	}
	if q.SizeMax > 0 && size > float64(q.SizeMax) {
		return false
	}
	return true
}

// Card 搜索结果中的一条房源摘要。
type Card struct {
	ID        int64
	URL       string
	Rooms     int
	Size      float64
	Price     string // 原始价格文本，如 "125 000 €" 或 "1 250 €/kk"
	Published string
}

// Detail 房源详情中用于定价的字段。
type Detail struct {
	CardID         int64
	Price          int
	MaintenanceFee int
}

type cardJSON struct {
	ID        flexNumber `json:"id"`
	URL       string     `json:"url"`
	Rooms     flexNumber `json:"rooms"`
	Size      flexNumber `json:"size"`
	Price     flexString `json:"price"`
	Published string     `json:"published"`
}

type cardsResponse struct {
	Found flexNumber `json:"found"`
	Cards []cardJSON `json:"cards"`
}

type detailResponse struct {
	CardID flexNumber `json:"cardId"`
	AdData struct {
		MaintenanceFee flexNumber `json:"maintenanceFee"`
		Size           flexNumber `json:"size"`
	} `json:"adData"`
	PriceData struct {
		Price flexNumber `json:"price"`
	} `json:"priceData"`
}

// Search 返回区域内符合面积条件的在售房源。
func (c *Client) Search(ctx context.Context, q Query) ([]Card, error) {
	cards, err := c.cards(ctx, cardTypeSale, q)
	if err != nil {
		return nil, err
	}
	out := cards[:0]
	for _, card := range cards {
		if q.Contains(card.Size) {
			out = append(out, card)
		}
	}
	return out, nil
}

// SearchRentals 返回区域内面积范围内的出租房源，作为租金估算的参照。
func (c *Client) SearchRentals(ctx context.Context, q Query) ([]yield.Comparable, error) {
	cards, err := c.cards(ctx, cardTypeRental, q)
	if err != nil {
		return nil, err
	}
	out := make([]yield.Comparable, 0, len(cards))
	for _, card := range cards {
		if !q.Contains(card.Size) {
			continue
		}
		rent := ParseRent(card.Price)
		if rent <= 0 || card.Size <= 0 {
			continue
		}
		out = append(out, yield.Comparable{Size: card.Size, Rent: rent})
	}
	return out, nil
}

// FetchDetail 获取房源详情（售价与维护费）。
func (c *Client) FetchDetail(ctx context.Context, cardID int64) (Detail, error) {
	u := c.baseURL + "/api/5.0/card/" + strconv.FormatInt(cardID, 10)
	var resp detailResponse
	if err := c.getJSON(ctx, "card", u, &resp); err != nil {
		return Detail{CardID: cardID}, err
	}
	return Detail{
		CardID:         cardID,
		Price:          int(math.Round(float64(resp.PriceData.Price))),
		MaintenanceFee: int(math.Round(float64(resp.AdData.MaintenanceFee))),
	}, nil
}

func (c *Client) cards(ctx context.Context, cardType string, q Query) ([]Card, error) {
	params := url.Values{}
	params.Set("cardType", cardType)
	params.Set("locations", q.Location.String())
	if q.SizeMin > 0 {
		params.Set("size[min]", strconv.Itoa(q.SizeMin))
	}
	if q.SizeMax > 0 {
		params.Set("size[max]", strconv.Itoa(q.SizeMax))
	}

	var resp cardsResponse
	if err := c.getJSON(ctx, "cards", c.baseURL+"/api/cards?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]Card, 0, len(resp.Cards))
	seen := make(map[int64]struct{}, len(resp.Cards))
	for _, cj := range resp.Cards {
		id := int64(cj.ID)
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, Card{
			ID:        id,
			URL:       strings.TrimSpace(cj.URL),
			Rooms:     int(cj.Rooms),
			Size:      float64(cj.Size),
			Price:     strings.TrimSpace(string(cj.Price)),
			Published: cj.Published,
		})
	}
	return out, nil
}

var amountPattern = regexp.MustCompile(`\d[\d\s\x{00a0}\x{202f}]*(?:[.,]\d+)?`)

// ParseRent 从 "1 250 €/kk" 这类文本中取出月租金额。无法解析时返回 0。
func ParseRent(s string) int {
	return ParseAmount(s)
}

// ParseAmount 取出文本中的第一个金额并四舍五入，如 "125 000 €" -> 125000。
func ParseAmount(s string) int {
	m := amountPattern.FindString(s)
	if m == "" {
		return 0
	}
	f, ok := parseAmount(m)
	if !ok {
		return 0
	}
	return int(math.Round(f))
}

func parseAmount(s string) (float64, bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\u00a0', '\u202f':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// flexNumber 接受 JSON 数字、数字字符串或 null，无法解析时为 0。
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*n = 0
			return nil
		}
		f, _ := parseAmount(amountPattern.FindString(s))
		*n = flexNumber(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		*n = 0
		return nil
	}
	*n = flexNumber(f)
	return nil
}

// flexString 接受 JSON 字符串或数字。
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	*s = flexString(b)
	return nil
}
