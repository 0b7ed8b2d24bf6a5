package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"apato/internal/config"
	"apato/internal/pipeline"
	"apato/internal/pkg/dedup"
	"apato/internal/pkg/logger"
	"apato/internal/pkg/notify"
	"apato/internal/pkg/ratelimit"
	"apato/internal/pkg/taskqueue"
	"apato/internal/scheduler"
	"apato/internal/source"
	"apato/internal/store"
	"apato/internal/watchlist"
	"apato/internal/yield"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// main 是收益率管道的入口函数。
//
// 它负责：
// 1. 加载配置并初始化日志
// 2. 连接数据库与 Redis，按种子文件初始化关注列表
// 3. 启动消费者池、调度器与 Metrics 服务（stream 模式下额外启动 Stream worker）
// 4. 收到信号后停止调度，等待当前轮次和已入队任务完成
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Database, appLogger)
	if err != nil {
		appLogger.Error("open store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Error("connect redis failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rdb.Close()
	}

	if cfg.App.SeedFile != "" {
		svc := watchlist.NewService(st, appLogger)
		if _, err := svc.Seed(ctx, cfg.App.SeedFile); err != nil {
			appLogger.Error("seed watchlists failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	limiter := ratelimit.New(rdb, appLogger, ratelimit.Config{
		Rate:  cfg.Source.RateLimit,
		Burst: cfg.Source.RateBurst,
	})
	src := source.New(cfg.Source, limiter, appLogger)
	rates := source.NewRateClient(cfg.Source.InterestRateURL, cfg.Source.FallbackInterestRate, cfg.Source.Timeout, appLogger)
	pricer := pipeline.NewPricer(src, rates, yieldParams(cfg.Yield), cfg.Source.RentTolerance, appLogger)

	router := notify.NewRouter(cfg.App.DefaultChannel)
	if tg := notify.NewTelegramNotifier(&cfg.Telegram, appLogger); tg != nil {
		router.Register("telegram", tg)
	}
	if email := notify.NewEmailNotifier(&cfg.Email, appLogger); email.Configured() {
		router.Register("mailto", email)
	}

	claims := dedup.NewClaims(rdb, cfg.App.NotifyClaimTTL)
	pool := pipeline.NewPool(appLogger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity)
	producer := pipeline.NewProducer(st, src, pricer, pool, claims, appLogger, pipeline.ProducerConfig{
		FreshnessWindow:    cfg.App.FreshnessWindow,
		PricingConcurrency: cfg.App.PricingConcurrency,
		DispatchMode:       cfg.App.DispatchMode,
	})
	consumer := pipeline.NewConsumer(st, router, producer, claims, appLogger)
	pool.Start(ctx, consumer.Handle)

	var streamWG sync.WaitGroup
	if cfg.App.DispatchMode == pipeline.DispatchStream {
		if rdb == nil {
			appLogger.Error("dispatch mode stream requires redis")
			os.Exit(1)
		}
		producer.SetPublisher(taskqueue.NewPublisher(rdb, appLogger, cfg.Redis.StreamName))

		consumerID, _ := os.Hostname()
		reader, err := taskqueue.NewConsumer(ctx, rdb, appLogger, cfg.Redis.StreamName, cfg.Redis.StreamGroup, consumerID)
		if err != nil {
			appLogger.Error("create stream consumer failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		worker := pipeline.NewStreamWorker(reader, st, consumer, appLogger)
		streamWG.Add(1)
		go func() {
			defer streamWG.Done()
			worker.Run(ctx)
		}()
	}

	metricsServer := &http.Server{
		Addr:    cfg.App.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		appLogger.Info("pipeline metrics server started", slog.String("addr", cfg.App.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	sched := scheduler.New(producer, pool, appLogger, cfg.App.ScheduleInterval, cfg.App.ScheduleCron)
	if err := sched.Run(ctx); err != nil {
		appLogger.Error("scheduler failed", slog.String("error", err.Error()))
	}

	appLogger.Info("shutting down pipeline...")

	// 调度器与 Stream worker 已停止，等待消费者处理完已入队任务
	streamWG.Wait()
	if err := pool.Shutdown(cfg.App.DrainTimeout); err != nil {
		appLogger.Error("consumer pool drain failed", slog.String("error", err.Error()))
	}
	pool.LogStats()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}

	appLogger.Info("pipeline stopped gracefully")
}

func yieldParams(c config.YieldConfig) yield.Params {
	return yield.Params{
		LoanYears:        c.LoanDurationYears,
		DownPaymentPct:   c.DownPaymentPercentage,
		VacantMonths:     c.AvgVacantMonthsPerYear,
		RentGrowthPct:    c.RentIncreasePerYear,
		PriceGrowthPct:   c.PriceIncreasePerYear,
		RenovationBudget: c.AvgRenovationCosts,
		TaxPct:           c.Tax,
	}
}
