package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"apato/internal/api/middleware"
	"apato/internal/model"
	"apato/internal/watchlist"

	"github.com/gin-gonic/gin"
)

// subscribeRequest 订阅请求参数。通知地址来自请求头。
type subscribeRequest struct {
	LocationID    int     `json:"location_id" binding:"required"`
	LocationLevel int     `json:"location_level"`
	LocationName  string  `json:"location_name"`
	SizeMin       int     `json:"size_min"`
	SizeMax       int     `json:"size_max"`
	TargetYield   float64 `json:"target_yield"`
}

type watchlistResponse struct {
	ID            uint    `json:"id"`
	LocationID    int     `json:"location_id"`
	LocationLevel int     `json:"location_level"`
	LocationName  string  `json:"location_name"`
	SizeMin       int     `json:"size_min"`
	SizeMax       int     `json:"size_max"`
	TargetYield   float64 `json:"target_yield"`
	Destination   string  `json:"destination"`
}

type listingResponse struct {
	CardID          int64   `json:"card_id"`
	Size            float64 `json:"size"`
	Rooms           int     `json:"rooms"`
	Price           int     `json:"price"`
	AdditionalCosts int     `json:"additional_costs"`
	Rent            int     `json:"rent"`
	EstimatedYield  float64 `json:"estimated_yield"`
	URL             string  `json:"url"`
	UpdatedAt       string  `json:"updated_at"`
}

func toWatchlistResponse(w *model.Watchlist) watchlistResponse {
	return watchlistResponse{
		ID:            w.ID,
		LocationID:    w.LocationID,
		LocationLevel: w.LocationLevel,
		LocationName:  w.LocationName,
		SizeMin:       w.TargetSizeMin,
		SizeMax:       w.TargetSizeMax,
		TargetYield:   w.TargetYield,
		Destination:   w.Destination,
	}
}

// handleSubscribe 订阅区域，已订阅时更新目标收益率。
//
// POST /api/watchlists
func (s *Server) handleSubscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w, created, err := s.watchlists.Subscribe(c.Request.Context(), watchlist.Subscription{
		Destination:   middleware.Destination(c),
		LocationID:    req.LocationID,
		LocationLevel: req.LocationLevel,
		LocationName:  req.LocationName,
		SizeMin:       req.SizeMin,
		SizeMax:       req.SizeMax,
		TargetYield:   req.TargetYield,
	})
	if err != nil {
		s.writeError(c, "subscribe failed", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, toWatchlistResponse(w))
}

// handleListWatchlists 返回请求方的关注列表。
//
// GET /api/watchlists
func (s *Server) handleListWatchlists(c *gin.Context) {
	list, err := s.watchlists.List(c.Request.Context(), middleware.Destination(c))
	if err != nil {
		s.writeError(c, "list watchlists failed", err)
		return
	}
	out := make([]watchlistResponse, 0, len(list))
	for i := range list {
		out = append(out, toWatchlistResponse(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

// handleDeleteWatchlist 删除关注列表。
//
// DELETE /api/watchlists/:id
func (s *Server) handleDeleteWatchlist(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.watchlists.Delete(c.Request.Context(), id, middleware.Destination(c)); err != nil {
		s.writeError(c, "delete watchlist failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// handleListings 返回关注列表的房源，matching=true 时只返回达标房源。
//
// GET /api/watchlists/:id/listings
func (s *Server) handleListings(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	matching, _ := strconv.ParseBool(c.DefaultQuery("matching", "false"))

	listings, err := s.watchlists.Listings(c.Request.Context(), id, middleware.Destination(c), matching)
	if err != nil {
		s.writeError(c, "list listings failed", err)
		return
	}
	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, listingResponse{
			CardID:          l.CardID,
			Size:            l.Size,
			Rooms:           l.Rooms,
			Price:           l.Price,
			AdditionalCosts: l.AdditionalCosts,
			Rent:            l.Rent,
			EstimatedYield:  l.EstimatedYield,
			URL:             l.URL,
			UpdatedAt:       l.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	c.JSON(http.StatusOK, out)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid watchlist id"})
		return 0, false
	}
	return uint(id), true
}

// writeError 把服务层错误映射为 HTTP 状态码。
func (s *Server) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, watchlist.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, watchlist.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "watchlist not found"})
	case errors.Is(err, watchlist.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "watchlist belongs to another destination"})
	default:
		s.logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
