package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	TasksClaimed     prometheus.Counter
	MessagesSent     *prometheus.CounterVec
	TasksFinalized   *prometheus.CounterVec
	GatewayErrors    prometheus.Counter
	EndpointsDeleted prometheus.Counter
	LockBusy         *prometheus.CounterVec
	RoundDuration    prometheus.Histogram
	StaleRecovered   prometheus.Counter
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "push_tasks_claimed_total",
			Help: "Tasks leased by this worker.",
		}),

		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_messages_total",
			Help: "Per-endpoint delivery outcomes by result (success, fail, invalid).",
		}, []string{"result"}),

		TasksFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_tasks_finalized_total",
			Help: "Terminal writes applied, by result summary.",
		}, []string{"summary"}),

		GatewayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "push_gateway_batch_errors_total",
			Help: "Bulk gateway calls that failed as a whole.",
		}),

		EndpointsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "push_endpoints_deleted_total",
			Help: "Endpoints removed after a permanently-invalid token response.",
		}),

		LockBusy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_run_lock_busy_total",
			Help: "Drain attempts skipped because another worker held the run lock.",
		}, []string{"scope"}),

		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "push_drain_round_seconds",
			Help:    "Wall time of one claim/expand/dispatch/finalize round.",
			Buckets: prometheus.DefBuckets,
		}),

		StaleRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "push_stale_tasks_recovered_total",
			Help: "Abandoned in-flight tasks returned to the queue.",
		}),
	}

	reg.MustRegister(
		m.TasksClaimed,
		m.MessagesSent,
		m.TasksFinalized,
		m.GatewayErrors,
		m.EndpointsDeleted,
		m.LockBusy,
		m.RoundDuration,
		m.StaleRecovered,
	)

	return m
}

// WorkerHooks returns the metric callbacks expected by worker.MetricHooks.
// Centralises the prometheus observation calls so the worker package stays
// import-free.
func (m *Metrics) WorkerHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnClaimed: func(n int) { m.TasksClaimed.Add(float64(n)) },
		OnMessages: func(success, fail, invalid int) {
			m.MessagesSent.WithLabelValues("success").Add(float64(success))
			m.MessagesSent.WithLabelValues("fail").Add(float64(fail))
			m.MessagesSent.WithLabelValues("invalid").Add(float64(invalid))
		},
		OnFinalized: func(s domain.ResultSummary) {
			m.TasksFinalized.WithLabelValues(string(s)).Inc()
		},
		OnGatewayError:   func() { m.GatewayErrors.Inc() },
		OnEndpointDelete: func() { m.EndpointsDeleted.Inc() },
		OnLockBusy:       func(scope string) { m.LockBusy.WithLabelValues(scope).Inc() },
		OnRound:          func(d time.Duration) { m.RoundDuration.Observe(d.Seconds()) },
		OnRecovered:      func(n int) { m.StaleRecovered.Add(float64(n)) },
	}
}
