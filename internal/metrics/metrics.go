package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	updatesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paradrop",
			Subsystem: "update",
			Name:      "completed_total",
			Help:      "Number of completed updates by class, type and result.",
		}, []string{"class", "type", "result"},
	)
	updatesInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paradrop",
			Subsystem: "update",
			Name:      "in_progress",
			Help:      "Server-originated updates currently being tracked.",
		},
	)
	planActions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "paradrop",
			Subsystem: "plan",
			Name:      "actions_total",
			Help:      "Number of plan actions executed successfully.",
		},
	)
	rollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "paradrop",
			Subsystem: "plan",
			Name:      "rollbacks_total",
			Help:      "Number of rollback actions invoked.",
		},
	)
	rollbackFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "paradrop",
			Subsystem: "plan",
			Name:      "rollback_failures_total",
			Help:      "Rollback actions that themselves failed (logged, not escalated).",
		},
	)
	pollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paradrop",
			Subsystem: "sync",
			Name:      "poll_cycles_total",
			Help:      "Fetch cycles against the management server by trigger.",
		}, []string{"trigger"},
	)
	fetchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "paradrop",
			Subsystem: "sync",
			Name:      "fetch_errors_total",
			Help:      "Failed fetches of the pending update list.",
		},
	)
	reportRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "paradrop",
			Subsystem: "sync",
			Name:      "report_retries_total",
			Help:      "Retries of per-update completion reports.",
		},
	)
	reportFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "paradrop",
			Subsystem: "sync",
			Name:      "report_failures_total",
			Help:      "Completion reports abandoned after exhausting retries.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		updatesCompleted, updatesInProgress, planActions, rollbacks,
		rollbackFailures, pollCycles, fetchErrors, reportRetries, reportFailures,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers against the default prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler serving metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncUpdateCompleted(class, typ string, success bool) {
	if regOK.Load() {
		result := "failure"
		if success {
			result = "success"
		}
		updatesCompleted.WithLabelValues(class, typ, result).Inc()
	}
}

func SetInProgress(n int) {
	if regOK.Load() {
		updatesInProgress.Set(float64(n))
	}
}

func IncPlanAction() {
	if regOK.Load() {
		planActions.Inc()
	}
}

func IncRollback() {
	if regOK.Load() {
		rollbacks.Inc()
	}
}

func IncRollbackFailure() {
	if regOK.Load() {
		rollbackFailures.Inc()
	}
}

func IncPollCycle(auto bool) {
	if regOK.Load() {
		trigger := "explicit"
		if auto {
			trigger = "scheduled"
		}
		pollCycles.WithLabelValues(trigger).Inc()
	}
}

func IncFetchError() {
	if regOK.Load() {
		fetchErrors.Inc()
	}
}

func IncReportRetry() {
	if regOK.Load() {
		reportRetries.Inc()
	}
}

func IncReportFailure() {
	if regOK.Load() {
		reportFailures.Inc()
	}
}
