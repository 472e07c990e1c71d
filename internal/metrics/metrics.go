package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codeshum_active_sessions",
			Help: "Number of live sessions",
		},
	)

	RunningProcesses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codeshum_running_processes",
			Help: "Number of user programs currently running",
		},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeshum_runs_total",
			Help: "Submitted runs by final status",
		},
		[]string{"status"},
	)

	CompileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codeshum_compile_duration_ms",
			Help:    "Wall time of the compile step in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)

	SessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codeshum_sessions_reaped_total",
			Help: "Sessions removed by the idle sweep",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codeshum_rate_limit_hits_total",
			Help: "Run requests rejected by the rate limiter",
		},
	)
)
