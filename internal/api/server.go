package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"apato/internal/api/middleware"
	"apato/internal/config"
	"apato/internal/model"
	"apato/internal/watchlist"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WatchlistService 订阅服务接口。
type WatchlistService interface {
	Subscribe(ctx context.Context, sub watchlist.Subscription) (*model.Watchlist, bool, error)
	List(ctx context.Context, destination string) ([]model.Watchlist, error)
	Delete(ctx context.Context, id uint, destination string) error
	Listings(ctx context.Context, id uint, destination string, matchingOnly bool) ([]model.Listing, error)
}

// Check 健康检查项，例如数据库或 Redis 的 Ping。
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Server 封装了状态与订阅 API 的路由处理。
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	router     *gin.Engine
	watchlists WatchlistService
	checks     []Check
}

// NewServer 初始化 Gin 路由引擎并注册路由。
func NewServer(cfg *config.Config, logger *slog.Logger, watchlists WatchlistService, checks ...Check) *Server {
	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.New(corsConfig(cfg.App.CORSOrigins)))

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		router:     r,
		watchlists: watchlists,
		checks:     checks,
	}
	s.registerRoutes()
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", middleware.DestinationHeader},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	g := s.router.Group("/api")
	g.Use(middleware.RequireDestination())
	g.GET("/watchlists", s.handleListWatchlists)
	g.POST("/watchlists", s.handleSubscribe)
	g.DELETE("/watchlists/:id", s.handleDeleteWatchlist)
	g.GET("/watchlists/:id/listings", s.handleListings)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for _, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			s.logger.Warn("health check failed",
				slog.String("check", check.Name),
				slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "check": check.Name})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
