package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billflow_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billflow_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIRequestSize API 请求体大小（字节）
	APIRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billflow_api_request_size_bytes",
			Help:    "API 请求体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)

	// APIResponseSize API 响应体大小（字节）
	APIResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billflow_api_response_size_bytes",
			Help:    "API 响应体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)
)

// 自动化执行指标
var (
	// RunsTotal 工作流执行总数，status: succeeded, failed, stopped
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billflow_automation_runs_total",
			Help: "自动化工作流执行总数",
		},
		[]string{"tenant_id", "status"},
	)

	// TriggerMatchesTotal 触发器匹配命中总数
	TriggerMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billflow_trigger_matches_total",
			Help: "事件触发器匹配命中总数",
		},
		[]string{"tenant_id", "event"},
	)

	// ContextErrorsTotal 上下文构建失败（静默跳过）总数
	ContextErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billflow_context_errors_total",
			Help: "执行上下文构建失败总数",
		},
		[]string{"tenant_id"},
	)

	// StepDurationSeconds 单步动作执行耗时（秒）
	StepDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billflow_step_duration_seconds",
			Help:    "自动化步骤执行耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"action_kind"},
	)

	// ScheduleTicksTotal 定时触发器求值总数
	ScheduleTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billflow_schedule_ticks_total",
			Help: "定时触发器到期求值总数",
		},
		[]string{"tenant_id"},
	)
)

// 外发通道指标
var (
	// WebhookDeliveriesTotal Webhook 投递总数
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billflow_webhook_deliveries_total",
			Help: "Webhook 投递总数",
		},
		[]string{"tenant_id", "status"},
	)

	// EmailsSentTotal 邮件发送总数
	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billflow_emails_sent_total",
			Help: "邮件发送总数",
		},
		[]string{"tenant_id", "status"},
	)
)

// 队列指标
var (
	// QueueTasksTotal 入队任务总数
	QueueTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billflow_queue_tasks_total",
			Help: "入队任务总数",
		},
		[]string{"task_type", "status"},
	)
)

// 数据库指标
var (
	// DBConnections 数据库连接数
	DBConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "billflow_db_connections",
			Help: "数据库连接数",
		},
		[]string{"state"}, // state: open, in_use, idle
	)

	// DBQueryDuration 数据库查询耗时（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billflow_db_query_duration_seconds",
			Help:    "数据库查询耗时分布",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// 缓存指标
var (
	// CacheHitsTotal 缓存命中数
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billflow_cache_hits_total",
			Help: "缓存命中总数",
		},
		[]string{"cache_type"},
	)

	// CacheMissesTotal 缓存未命中数
	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billflow_cache_misses_total",
			Help: "缓存未命中总数",
		},
		[]string{"cache_type"},
	)
)

// 系统指标
var (
	// BuildInfo 构建信息
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "billflow_build_info",
			Help: "BillFlow 构建信息",
		},
		[]string{"version", "go_version", "commit"},
	)
)

// RecordBuildInfo 记录构建信息
func RecordBuildInfo(version, goVersion, commit string) {
	BuildInfo.WithLabelValues(version, goVersion, commit).Set(1)
}
