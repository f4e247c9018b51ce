// Package metrics exports Prometheus collectors for the debugger and
// checker services.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds every registered collector. The services feed the HTTP
// collectors (through Middleware), SessionsStartedTotal and the two
// gauge funcs; the remaining collectors are registered but not updated
// anywhere, so they stay at zero.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Debug sessions
	SessionsStartedTotal prometheus.Counter
	SessionsReapedTotal  prometheus.Counter
	DebugCommandsTotal   *prometheus.CounterVec

	// Compilation
	CompileDuration   prometheus.Histogram
	CompileFailsTotal prometheus.Counter

	// Sandbox
	SandboxBuildDuration prometheus.Histogram
	SandboxRunDuration   prometheus.Histogram

	// Checker
	ChecksTotal      *prometheus.CounterVec
	CheckerQueueSize prometheus.GaugeFunc
	ActiveSessions   prometheus.GaugeFunc
}

// Init registers the collectors once. queueDepth and sessionCount feed
// the gauges lazily at scrape time; pass nil to omit a gauge.
func Init(queueDepth, sessionCount func() float64) *Metrics {
	once.Do(func() {
		m := &Metrics{}

		m.HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cppjudge_http_requests_total",
			Help: "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"})

		m.HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cppjudge_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		m.SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "cppjudge_debug_sessions_started_total",
			Help: "Debug sessions created",
		})

		m.SessionsReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "cppjudge_debug_sessions_reaped_total",
			Help: "Debug sessions reaped by the janitor",
		})

		m.DebugCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cppjudge_debug_commands_total",
			Help: "Debugger motion commands by kind",
		}, []string{"command"})

		m.CompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cppjudge_compile_duration_seconds",
			Help:    "C++ compilation latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		})

		m.CompileFailsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "cppjudge_compile_failures_total",
			Help: "Compilations that produced no binary",
		})

		m.SandboxBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cppjudge_sandbox_build_duration_seconds",
			Help:    "Docker image build latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		})

		m.SandboxRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cppjudge_sandbox_run_duration_seconds",
			Help:    "Sandboxed test run latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		})

		m.ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cppjudge_checks_total",
			Help: "Checker pipeline outcomes",
		}, []string{"result"})

		if queueDepth != nil {
			m.CheckerQueueSize = promauto.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "cppjudge_checker_queue_depth",
				Help: "Submissions waiting in the checker queue",
			}, queueDepth)
		}
		if sessionCount != nil {
			m.ActiveSessions = promauto.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "cppjudge_debug_sessions_active",
				Help: "Live debug sessions",
			}, sessionCount)
		}

		instance = m
	})
	return instance
}

// Get returns the registered collectors; Init must have run.
func Get() *Metrics {
	return instance
}
