package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "apato"

var (
	// PipelinePassesTotal 生产者轮次计数（按结果）。
	PipelinePassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_passes_total",
		Help:      "Producer passes by result.",
	}, []string{"result"})

	// PipelinePassDuration 单次生产者轮次耗时。
	PipelinePassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_pass_duration_seconds",
		Help:      "Duration of a full producer pass.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// ListingsPricedTotal 定价次数（new / refresh）。
	ListingsPricedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listings_priced_total",
		Help:      "Listings priced by the yield engine.",
	}, []string{"kind"})

	// YieldZeroTotal 收益率被置为 0 的次数。
	YieldZeroTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "yield_zero_total",
		Help:      "Pricing results that fell back to a 0% yield.",
	})

	// LinksCreatedTotal 新建的关注列表-房源关联数。
	LinksCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "links_created_total",
		Help:      "Watchlist/listing links created.",
	})

	// NotifyTasksEnqueuedTotal 入队的通知任务数。
	NotifyTasksEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notify_tasks_enqueued_total",
		Help:      "NotifyListing tasks accepted by the pool.",
	})

	// TaskDuplicatePreventedTotal 因已有待处理任务而跳过的通知数。
	TaskDuplicatePreventedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_duplicate_prevented_total",
		Help:      "Notifications skipped because one was already pending.",
	})

	// TasksProcessedTotal 消费者处理的任务数（按类型和结果）。
	TasksProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_processed_total",
		Help:      "Tasks handled by consumer workers.",
	}, []string{"kind", "result"})

	// NotificationsTotal 通知发送结果。
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification deliveries by result.",
	}, []string{"result"})

	// QueueDepth 任务队列当前积压。
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Tasks waiting in the consumer queue.",
	})

	// WorkerPoolSize 消费者 worker 数量。
	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_pool_size",
		Help:      "Configured consumer worker count.",
	})

	// SourceRequestsTotal 对房源平台的请求数（按接口和状态码）。
	SourceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_requests_total",
		Help:      "Listing source requests by endpoint and status.",
	}, []string{"endpoint", "status"})

	// SourceRequestDuration 房源平台请求耗时。
	SourceRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "source_request_duration_seconds",
		Help:      "Listing source request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	// SourceTokenRefreshTotal 会话 token 刷新次数。
	SourceTokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_token_refresh_total",
		Help:      "Session token fetches by reason.",
	}, []string{"reason"})

	// StreamPublishedTotal 发布到 Redis Stream 的刷新消息数。
	StreamPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_published_total",
		Help:      "Refresh messages published to the watchlist stream.",
	})

	// StreamAutoClaimTotal 通过 XAUTOCLAIM 接管的消息数。
	StreamAutoClaimTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_autoclaim_total",
		Help:      "Stream messages reclaimed from idle consumers.",
	})

	// StreamDeadLetterTotal 进入死信队列的消息数。
	StreamDeadLetterTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_dead_letter_total",
		Help:      "Stream messages moved to the dead letter stream.",
	})

	// RateLimitWaitDuration 限流等待时间。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ratelimit_wait_seconds",
		Help:      "Time spent waiting for a rate limit token.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_timeout_total",
		Help:      "Rate limit waits aborted by context.",
	})
)

// InitMetrics 初始化静态指标。
func InitMetrics(workers int) {
	WorkerPoolSize.Set(float64(workers))
	QueueDepth.Set(0)
}
