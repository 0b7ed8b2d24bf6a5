package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"apato/internal/config"
	"apato/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Store 持久化层：关注列表、房源与去重索引。
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option 配置 Store。
type Option func(*Store)

// WithClock 替换时间来源，用于新鲜度判断和时间戳。
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open 按驱动连接数据库并执行迁移。
//
// 支持 mysql、postgres 和 sqlite。sqlite 限制为单连接。
func Open(cfg config.DatabaseConfig, logger *slog.Logger, opts ...Option) (*Store, error) {
	s := &Store{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		NowFunc: func() time.Time { return s.now() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	if err := db.AutoMigrate(&model.Watchlist{}, &model.Listing{}, &model.WatchlistListingLink{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.db = db
	return s, nil
}

// Ping 检查数据库连接。
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
