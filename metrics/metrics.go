// Package metrics 歌曲入库与推荐的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestTransitionsTotal 入库状态机每次状态迁移计数
	IngestTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_ingest_transitions_total",
			Help: "Total number of ingestion state transitions",
		},
		[]string{"state"},
	)

	// IngestFailuresTotal 入库失败按错误类型计数
	IngestFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_ingest_failures_total",
			Help: "Total number of failed ingestions by error kind",
		},
		[]string{"kind"},
	)

	// IngestDuration 从接收到完成的耗时
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "melodex_ingest_duration_seconds",
			Help:    "Duration of successful ingestions in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// CleanupFailuresTotal 删除歌曲时尽力删除对象失败的次数
	CleanupFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_cleanup_failures_total",
			Help: "Total number of best-effort blob deletions that failed",
		},
		[]string{"target"},
	)

	// RecommendRequestsTotal 推荐请求按缓存结果计数
	RecommendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_recommend_requests_total",
			Help: "Total number of recommendation requests by cache outcome",
		},
		[]string{"cache"},
	)

	// RecommendDuration 推荐计算耗时（不含缓存命中）
	RecommendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "melodex_recommend_duration_seconds",
			Help:    "Duration of recommendation scoring in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// StorageBreakerOpen 对象存储熔断器是否打开
	StorageBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "melodex_storage_breaker_open",
			Help: "1 when the object storage circuit breaker is open",
		},
		[]string{"name"},
	)

	// HTTPRequestsTotal HTTP 请求计数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "method", "status"},
	)
)

// RecordTransition 记录一次状态迁移
func RecordTransition(state string) {
	IngestTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordIngestFailure 记录一次入库失败
func RecordIngestFailure(kind string) {
	IngestFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveIngest 记录一次成功入库的耗时
func ObserveIngest(start time.Time) {
	IngestDuration.Observe(time.Since(start).Seconds())
}

// RecordCleanupFailure 记录尽力清理失败，target 为 asset 或 cover
func RecordCleanupFailure(target string) {
	CleanupFailuresTotal.WithLabelValues(target).Inc()
}

// RecordRecommend 记录推荐请求，cache 为 hit、miss 或 error
func RecordRecommend(cache string) {
	RecommendRequestsTotal.WithLabelValues(cache).Inc()
}

// ObserveRecommend 记录推荐计算耗时
func ObserveRecommend(start time.Time) {
	RecommendDuration.Observe(time.Since(start).Seconds())
}

// SetBreakerOpen 更新熔断器状态
func SetBreakerOpen(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	StorageBreakerOpen.WithLabelValues(name).Set(v)
}
