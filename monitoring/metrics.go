package monitoring

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"churnrisk/pipeline"
)

// Metrics 评分服务的Prometheus指标
type Metrics struct {
	registry *prometheus.Registry

	runsTotal         *prometheus.CounterVec
	rowsScored        prometheus.Counter
	riskLabels        *prometheus.CounterVec
	substitutions     prometheus.Counter
	runDuration       *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	rateLimitRejected prometheus.Counter

	startTime time.Time
}

// NewMetrics 创建指标并注册到独立的registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "churnrisk",
			Subsystem: "scoring",
			Name:      "runs_total",
			Help:      "Scoring runs by mode and outcome",
		}, []string{"mode", "outcome"}),
		rowsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "churnrisk",
			Subsystem: "scoring",
			Name:      "rows_scored_total",
			Help:      "Records that received a churn probability",
		}),
		riskLabels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "churnrisk",
			Subsystem: "scoring",
			Name:      "risk_labels_total",
			Help:      "Assigned risk labels",
		}, []string{"label"}),
		substitutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "churnrisk",
			Subsystem: "scoring",
			Name:      "substitutions_total",
			Help:      "Malformed batch values replaced by field defaults",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "churnrisk",
			Subsystem: "scoring",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a scoring run",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"mode"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "churnrisk",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "churnrisk",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "churnrisk",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter",
		}),
		startTime: time.Now(),
	}

	m.registry.MustRegister(
		m.runsTotal, m.rowsScored, m.riskLabels, m.substitutions, m.runDuration,
		m.httpRequests, m.httpDuration, m.rateLimitRejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回底层registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler 暴露/metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun 记录一次运行
func (m *Metrics) ObserveRun(run pipeline.RunSummary) {
	outcome := "ok"
	if run.ErrorKind != "" {
		outcome = run.ErrorKind
	}
	m.runsTotal.WithLabelValues(run.Mode, outcome).Inc()
	m.runDuration.WithLabelValues(run.Mode).Observe(run.Duration.Seconds())
	m.substitutions.Add(float64(run.Substitutions))
	if run.ErrorKind != "" {
		return
	}
	m.rowsScored.Add(float64(run.Rows))
	for _, label := range pipeline.RiskLabels {
		if n := run.Labels[label]; n > 0 {
			m.riskLabels.WithLabelValues(string(label)).Add(float64(n))
		}
	}
}

// ObserveRequest 记录一次HTTP请求
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveRateLimited 记录一次限流拒绝
func (m *Metrics) ObserveRateLimited() { m.rateLimitRejected.Inc() }

// Uptime 获取运行时间
func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }

// SystemStats 获取系统统计
func (m *Metrics) SystemStats() map[string]interface{} {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return map[string]interface{}{
		"uptime":     m.Uptime().Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"heap_alloc": mem.HeapAlloc,
			"heap_sys":   mem.HeapSys,
			"gc_count":   mem.NumGC,
		},
		"num_cpu": runtime.NumCPU(),
	}
}
