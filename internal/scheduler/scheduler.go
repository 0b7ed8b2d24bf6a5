package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner 执行一轮生产。
type Runner interface {
	RunPass(ctx context.Context) error
}

// StatsLogger 周期性打印消费者池统计。
type StatsLogger interface {
	LogStats()
}

// Scheduler 按固定间隔或 cron 表达式触发生产轮次。
//
// 同一时间最多只有一轮在执行。ctx 取消后不再触发新轮次，
// Run 会等待正在执行的一轮结束后才返回。
type Scheduler struct {
	runner        Runner
	stats         StatsLogger
	logger        *slog.Logger
	interval      time.Duration
	cronSpec      string
	statsInterval time.Duration

	mu sync.Mutex // 串行化轮次
}

// New 创建调度器。cronSpec 非空时替代 interval。
func New(runner Runner, stats StatsLogger, logger *slog.Logger, interval time.Duration, cronSpec string) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Scheduler{
		runner:        runner,
		stats:         stats,
		logger:        logger,
		interval:      interval,
		cronSpec:      cronSpec,
		statsInterval: time.Minute,
	}
}

// Run 阻塞直到 ctx 取消且当前轮次结束。
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cronSpec != "" {
		return s.runCron(ctx)
	}

	s.logger.Info("scheduler started", slog.String("interval", s.interval.String()))

	// 首次立即执行一轮
	s.pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(s.statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			s.pass(ctx)
		case <-statsTicker.C:
			s.logStats()
		}
	}
}

func (s *Scheduler) runCron(ctx context.Context) error {
	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.cronSpec, func() { s.pass(ctx) }); err != nil {
		return fmt.Errorf("parse cron spec %q: %w", s.cronSpec, err)
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.statsInterval), s.logStats); err != nil {
		return fmt.Errorf("add stats job: %w", err)
	}

	s.logger.Info("scheduler started", slog.String("cron", s.cronSpec))
	s.pass(ctx)

	c.Start()
	<-ctx.Done()

	// 等待正在执行的任务结束
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// pass 执行一轮，不会与其他轮次重叠。
func (s *Scheduler) pass(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("PANIC in pass",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := s.runner.RunPass(ctx); err != nil {
		s.logger.Error("pass failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) logStats() {
	if s.stats != nil {
		s.stats.LogStats()
	}
}

// cronLogger 把 cron 的日志转到 slog。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
