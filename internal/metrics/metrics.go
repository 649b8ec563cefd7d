package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector 响应观察相关指标
type Collector struct {
	observed   prometheus.Counter
	dispatched *prometheus.CounterVec
	failures   *prometheus.CounterVec
	grpcStatus *prometheus.CounterVec
	retries    *prometheus.HistogramVec
}

// New 创建并注册指标，reg 为空时使用默认注册表
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		observed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdpwatch",
			Name:      "responses_observed_total",
			Help:      "Responses seen on the session event stream.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpwatch",
			Name:      "responses_dispatched_total",
			Help:      "Callback invocations by rule and status match.",
		}, []string{"rule", "matched"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpwatch",
			Name:      "dispatch_failures_total",
			Help:      "Header retrieval or callback failures by rule.",
		}, []string{"rule"}),
		grpcStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpwatch",
			Name:      "grpc_web_status_total",
			Help:      "Decoded gRPC-Web terminal statuses.",
		}, []string{"status"}),
		retries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cdpwatch",
			Name:      "locator_attempts",
			Help:      "Attempts used by the retry poller per call.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}, []string{"result"}),
	}
	reg.MustRegister(c.observed, c.dispatched, c.failures, c.grpcStatus, c.retries)
	return c
}

// Observed 记录一次进入订阅引擎的响应
func (c *Collector) Observed() {
	if c == nil {
		return
	}
	c.observed.Inc()
}

// Dispatched 记录一次回调调用
func (c *Collector) Dispatched(rule string, matched bool) {
	if c == nil {
		return
	}
	c.dispatched.WithLabelValues(rule, strconv.FormatBool(matched)).Inc()
}

// Failed 记录一次分发失败
func (c *Collector) Failed(rule string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(rule).Inc()
}

// GrpcStatus 记录解码出的 gRPC 状态
func (c *Collector) GrpcStatus(status string) {
	if c == nil {
		return
	}
	c.grpcStatus.WithLabelValues(status).Inc()
}

// Attempts 记录重试轮询的尝试次数
func (c *Collector) Attempts(n int, found bool) {
	if c == nil {
		return
	}
	result := "found"
	if !found {
		result = "exhausted"
	}
	c.retries.WithLabelValues(result).Observe(float64(n))
}
