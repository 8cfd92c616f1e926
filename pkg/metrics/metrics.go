package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 队列消费延迟（毫秒）
	QueueConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_consume_latency_ms",
			Help:    "Job consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// LLM / classifier 调用延迟（毫秒）
	AICallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_call_latency_ms",
			Help:    "AI service call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"endpoint", "status"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 邮件处理计数
	MessagesParsedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_parsed_count",
			Help: "Total number of messages parsed and stored",
		},
		[]string{"status"}, // status: inserted, updated, skipped, failed
	)

	// Parse job 入队计数
	ParseJobsEnqueuedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parse_jobs_enqueued_count",
			Help: "Total number of parse jobs enqueued by the fetch stage",
		},
		[]string{"reason"}, // reason: incremental, backfill, import
	)

	// 分类计数
	ClassificationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classification_count",
			Help: "Total number of classifications by resolved method",
		},
		[]string{"method"}, // method: local, llm, heuristic
	)

	// IDLE 重连计数
	IdleReconnectCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idle_reconnect_count",
			Help: "Total number of idle watcher reconnect attempts",
		},
		[]string{"account_id"},
	)

	// 通知转发计数
	NotificationsRelayedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_relayed_count",
			Help: "Total number of notifications relayed to live subscribers",
		},
		[]string{"type"},
	)
)

// RecordQueueConsumeLatency 记录队列消费延迟
func RecordQueueConsumeLatency(routingKey, queue string, duration time.Duration) {
	QueueConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordAICallLatency 记录 AI 调用延迟
func RecordAICallLatency(endpoint, status string, duration time.Duration) {
	AICallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementMessagesParsed 增加邮件处理计数
func IncrementMessagesParsed(status string) {
	MessagesParsedCount.WithLabelValues(status).Inc()
}

// IncrementParseJobsEnqueued 增加 parse job 入队计数
func IncrementParseJobsEnqueued(reason string) {
	ParseJobsEnqueuedCount.WithLabelValues(reason).Inc()
}

// IncrementClassification 增加分类计数
func IncrementClassification(method string) {
	ClassificationCount.WithLabelValues(method).Inc()
}

// IncrementIdleReconnect 增加 IDLE 重连计数
func IncrementIdleReconnect(accountID string) {
	IdleReconnectCount.WithLabelValues(accountID).Inc()
}

// IncrementNotificationsRelayed 增加通知转发计数
func IncrementNotificationsRelayed(eventType string) {
	NotificationsRelayedCount.WithLabelValues(eventType).Inc()
}
