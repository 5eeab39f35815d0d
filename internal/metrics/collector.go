// Package metrics 传输层与自动化引擎的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 指标收集器，nil 接收者上的方法均为空操作
type Collector struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	filteredTotal    *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
	droppedResponses prometheus.Counter
	inflight         prometheus.Gauge
	sessions         prometheus.Gauge
	retriesTotal     *prometheus.CounterVec
	waitsTotal       *prometheus.CounterVec
	markersLive      prometheus.Gauge
	interceptedTotal *prometheus.CounterVec
}

// NewCollector 在 reg 上注册指标，reg 为 nil 时使用独立注册表
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Collector{
		commandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cdp_commands_total",
			Help:      "Total number of protocol commands by outcome",
		}, []string{"method", "outcome"}),
		commandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cdp_command_duration_seconds",
			Help:      "Protocol command round trip in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method"}),
		filteredTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cdp_filtered_commands_total",
			Help:      "Commands blocked before transmission",
		}, []string{"method"}),
		eventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cdp_events_total",
			Help:      "Inbound protocol events",
		}, []string{"method"}),
		droppedResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cdp_dropped_responses_total",
			Help:      "Responses whose id had no pending request",
		}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cdp_inflight_commands",
			Help:      "Commands awaiting a response",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cdp_attached_sessions",
			Help:      "Attached target sessions",
		}),
		retriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_retries_total",
			Help:      "Retried automation attempts by outcome",
		}, []string{"outcome"}),
		waitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_waits_total",
			Help:      "Poll waits by outcome",
		}, []string{"outcome"}),
		markersLive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "automation_markers_live",
			Help:      "Marker tokens allocated and not yet released",
		}),
		interceptedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_intercepted_requests_total",
			Help:      "Paused requests by resource type and action",
		}, []string{"resource_type", "action"}),
	}
}

// CommandStarted 命令进入等待表
func (c *Collector) CommandStarted() {
	if c == nil {
		return
	}
	c.inflight.Inc()
}

// CommandFinished 命令离开等待表
func (c *Collector) CommandFinished(method, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.inflight.Dec()
	c.commandsTotal.WithLabelValues(method, outcome).Inc()
	c.commandDuration.WithLabelValues(method).Observe(d.Seconds())
}

// CommandFiltered 命令被拦截
func (c *Collector) CommandFiltered(method string) {
	if c == nil {
		return
	}
	c.filteredTotal.WithLabelValues(method).Inc()
}

// EventReceived 收到事件
func (c *Collector) EventReceived(method string) {
	if c == nil {
		return
	}
	c.eventsTotal.WithLabelValues(method).Inc()
}

// ResponseDropped 迟到或未知的响应
func (c *Collector) ResponseDropped() {
	if c == nil {
		return
	}
	c.droppedResponses.Inc()
}

// SessionAttached 会话数 +1
func (c *Collector) SessionAttached() {
	if c == nil {
		return
	}
	c.sessions.Inc()
}

// SessionDetached 会话数 -1
func (c *Collector) SessionDetached() {
	if c == nil {
		return
	}
	c.sessions.Dec()
}

// Retry 记录一次重试尝试
func (c *Collector) Retry(outcome string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(outcome).Inc()
}

// Wait 记录一次轮询等待结果
func (c *Collector) Wait(outcome string) {
	if c == nil {
		return
	}
	c.waitsTotal.WithLabelValues(outcome).Inc()
}

// MarkerAllocated 标记分配
func (c *Collector) MarkerAllocated() {
	if c == nil {
		return
	}
	c.markersLive.Inc()
}

// MarkerReleased 标记释放
func (c *Collector) MarkerReleased() {
	if c == nil {
		return
	}
	c.markersLive.Dec()
}

// RequestIntercepted 记录被暂停请求的处理结果
func (c *Collector) RequestIntercepted(resourceType, action string) {
	if c == nil {
		return
	}
	c.interceptedTotal.WithLabelValues(resourceType, action).Inc()
}
