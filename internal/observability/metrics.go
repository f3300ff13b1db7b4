// Package observability wires Prometheus metrics and OpenTelemetry tracing.
// Nothing here touches global state: the registry and tracer provider are
// injected into the components that use them.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for quorum.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	OracleCallsTotal   *prometheus.CounterVec
	OracleCallDuration *prometheus.HistogramVec
	BreakerRejections  *prometheus.CounterVec

	AttemptsTotal *prometheus.CounterVec
	AttemptScore  prometheus.Histogram

	CandidatesTotal *prometheus.CounterVec
	JudgeFailures   prometheus.Counter
	GraphOverflow   prometheus.Counter

	SubTasksTotal  *prometheus.CounterVec
	ActiveSubTasks prometheus.Gauge

	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram
}

// NewMetrics creates Metrics registered on a fresh custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		OracleCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "oracle",
			Name:      "calls_total",
			Help:      "Total oracle invocations by capability and outcome.",
		}, []string{"capability", "status"}),

		OracleCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quorum",
			Subsystem: "oracle",
			Name:      "call_duration_seconds",
			Help:      "Oracle invocation duration in seconds, retries included.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"capability"}),

		BreakerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "oracle",
			Name:      "breaker_rejections_total",
			Help:      "Calls short-circuited by an open circuit breaker.",
		}, []string{"provider"}),

		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "attempt",
			Name:      "total",
			Help:      "Sub-task attempts by result.",
		}, []string{"result"}),

		AttemptScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quorum",
			Subsystem: "attempt",
			Name:      "score",
			Help:      "Best composite judge score per attempt.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),

		CandidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "pipeline",
			Name:      "candidates_total",
			Help:      "Worker calls by result: scored or dropped.",
		}, []string{"result"}),

		JudgeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "pipeline",
			Name:      "judge_failures_total",
			Help:      "Judge calls that failed and contributed a zero score.",
		}),

		GraphOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "graph",
			Name:      "overflow_total",
			Help:      "Follow-up sub-tasks dropped by the graph growth bounds.",
		}),

		SubTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "subtask",
			Name:      "completed_total",
			Help:      "Completed sub-tasks by outcome.",
		}, []string{"outcome"}),

		ActiveSubTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quorum",
			Subsystem: "subtask",
			Name:      "active",
			Help:      "Sub-tasks currently being attempted.",
		}),

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "run",
			Name:      "total",
			Help:      "Orchestration runs by status.",
		}, []string{"status"}),

		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quorum",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "End-to-end run duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}

	reg.MustRegister(
		m.OracleCallsTotal,
		m.OracleCallDuration,
		m.BreakerRejections,
		m.AttemptsTotal,
		m.AttemptScore,
		m.CandidatesTotal,
		m.JudgeFailures,
		m.GraphOverflow,
		m.SubTasksTotal,
		m.ActiveSubTasks,
		m.RunsTotal,
		m.RunDuration,
	)

	return m
}

// ObserveOracleCall records one oracle invocation.
func (m *Metrics) ObserveOracleCall(capability string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OracleCallsTotal.WithLabelValues(capability, statusLabel(err)).Inc()
	m.OracleCallDuration.WithLabelValues(capability).Observe(elapsed.Seconds())
}

// ObserveBreakerRejection counts a call refused by an open breaker.
func (m *Metrics) ObserveBreakerRejection(provider string) {
	if m == nil {
		return
	}
	m.BreakerRejections.WithLabelValues(provider).Inc()
}

// ObserveAttempt records the outcome of one attempt.
func (m *Metrics) ObserveAttempt(accepted bool, score float64) {
	if m == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.AttemptsTotal.WithLabelValues(result).Inc()
	m.AttemptScore.Observe(score)
}

// ObserveCandidate counts one worker call; dropped calls produced no answer.
func (m *Metrics) ObserveCandidate(dropped bool) {
	if m == nil {
		return
	}
	result := "scored"
	if dropped {
		result = "dropped"
	}
	m.CandidatesTotal.WithLabelValues(result).Inc()
}

// ObserveJudgeFailure counts a judge call scored as zero.
func (m *Metrics) ObserveJudgeFailure() {
	if m == nil {
		return
	}
	m.JudgeFailures.Inc()
}

// ObserveOverflow counts follow-ups refused by the graph bounds.
func (m *Metrics) ObserveOverflow(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.GraphOverflow.Add(float64(n))
}

// SubTaskStarted bumps the active gauge.
func (m *Metrics) SubTaskStarted() {
	if m == nil {
		return
	}
	m.ActiveSubTasks.Inc()
}

// SubTaskFinished lowers the active gauge and counts the outcome.
func (m *Metrics) SubTaskFinished(outcome string) {
	if m == nil {
		return
	}
	m.ActiveSubTasks.Dec()
	m.SubTasksTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
