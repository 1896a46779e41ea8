package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgate_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgate_gate_decisions_total",
			Help: "Request gate decisions.",
		},
		[]string{"decision"},
	)

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kgate_rate_limited_total",
		Help: "Requests rejected by the fixed window rate limiter.",
	})

	DispatchDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgate_dispatch_dropped_total",
			Help: "Background tasks dropped because the dispatcher was saturated.",
		},
		[]string{"task"},
	)

	DispatchFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgate_dispatch_failed_total",
			Help: "Background tasks that returned an error.",
		},
		[]string{"task"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
