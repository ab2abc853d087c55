// Package metrics 暴露 Prometheus 指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服务端指标集合
type Metrics struct {
	registry        *prometheus.Registry
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	ClaimsTotal     *prometheus.CounterVec
	SweptTotal      prometheus.Counter
}

// New 创建并注册指标
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "renmai_http_request_duration_seconds",
			Help:    "HTTP 请求耗时",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "renmai_http_requests_total",
			Help: "HTTP 请求总数",
		}, []string{"method", "path", "status"}),
		ClaimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "renmai_connection_claims_total",
			Help: "连接请求结果计数",
		}, []string{"outcome"}),
		SweptTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "renmai_connections_swept_total",
			Help: "被自动忽略的过期连接数",
		}),
	}
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest 记录一次 HTTP 请求
func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
