package metrics

import (
	"errors"
	"net/http"

	"fx-forward-runner/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fxrunner"

var (
	BrokerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broker_calls_total",
		Help:      "Broker REST calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	HeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeat_failures_total",
		Help:      "Failed keepalive pings.",
	})

	ConnectionUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_up",
		Help:      "1 when the keepalive reports CONNECTED.",
	})

	PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_ticks_total",
		Help:      "Poller ticks by poller and outcome (ok, error, skipped).",
	}, []string{"poller", "outcome"})

	Signals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_total",
		Help:      "Actionable signals by source and type.",
	}, []string{"source", "signal"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Scheduled job invocations by resulting signal.",
	}, []string{"signal"})

	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_submitted_total",
		Help:      "Orders accepted by the broker.",
	}, []string{"instrument", "side"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Active sessions seen by the last sessions-runner pass.",
	})
)

func ObserveBrokerCall(operation string, err error) {
	BrokerCalls.WithLabelValues(operation, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrAuth):
		return "auth"
	case errors.Is(err, types.ErrTransientBroker):
		return "transient"
	default:
		return "error"
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
