package metrics

import (
	"time"

	"github.com/BaSui01/imagitext/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
// 同时实现 fallback.Observer、fetch.Observer 与 cache.Observer。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Provider 端点尝试
	providerAttemptsTotal   *prometheus.CounterVec
	providerAttemptDuration *prometheus.HistogramVec

	// 分析 / 生成整体结果
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	jobsInFlight      prometheus.Gauge

	// 远程图片抓取
	fetchTotal *prometheus.CounterVec
	fetchBytes prometheus.Histogram

	// 会话存储
	storeOpsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，指标注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Provider 指标
	c.providerAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Endpoint attempts per provider family, operation and outcome",
		},
		[]string{"family", "operation", "outcome", "code"},
	)

	c.providerAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_duration_seconds",
			Help:      "Duration of a single endpoint attempt in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"family", "operation"},
	)

	c.operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Analyze and generate calls by final status",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "End-to-end analyze and generate duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation"},
	)

	c.jobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Upstream jobs currently holding a concurrency slot",
		},
	)

	// 抓取指标
	c.fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_fetch_total",
			Help:      "Remote image fetches by outcome",
		},
		[]string{"outcome"},
	)

	c.fetchBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_fetch_bytes",
			Help:      "Size of successfully fetched remote images",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	// 存储指标
	c.storeOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Session store operations by backend and outcome",
		},
		[]string{"backend", "op", "outcome"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 Provider 指标记录
// =============================================================================

// ObserveAttempt 记录一次端点尝试
func (c *Collector) ObserveAttempt(family, operation, outcome string, code types.ErrorCode, duration time.Duration) {
	label := string(code)
	if label == "" {
		label = "none"
	}
	c.providerAttemptsTotal.WithLabelValues(family, operation, outcome, label).Inc()
	c.providerAttemptDuration.WithLabelValues(family, operation).Observe(duration.Seconds())
}

// RecordOperation 记录一次完整的分析或生成调用，status 为 ok 或错误类别
func (c *Collector) RecordOperation(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = string(types.GetErrorCode(err))
	}
	c.operationsTotal.WithLabelValues(operation, status).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// JobStarted 占用并发槽位
func (c *Collector) JobStarted() { c.jobsInFlight.Inc() }

// JobFinished 释放并发槽位
func (c *Collector) JobFinished() { c.jobsInFlight.Dec() }

// =============================================================================
// 🌐 抓取与存储指标
// =============================================================================

// ObserveFetch 记录一次远程抓取
func (c *Collector) ObserveFetch(outcome string, bytes int, _ time.Duration) {
	c.fetchTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		c.fetchBytes.Observe(float64(bytes))
	}
}

// ObserveStore 记录一次存储操作
func (c *Collector) ObserveStore(backend, op, outcome string) {
	c.storeOpsTotal.WithLabelValues(backend, op, outcome).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
