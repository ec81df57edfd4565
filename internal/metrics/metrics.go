// Package metrics exposes the verification engine's Prometheus series,
// registered in init() and served at /metrics by the live HTTP server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Operations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_verify_operations_total",
		Help: "Verification items processed (any outcome)",
	})

	Verified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_verified_total",
		Help: "Successful verifications by kind",
	}, []string{"kind"}) // entry|exit|dca|partial_exit

	Retries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_verify_retries_total",
		Help: "Verification items requeued after a transient outcome",
	})

	Abandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_verify_abandoned_total",
		Help: "Verification items dropped by the give-up policy",
	})

	Expired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_verify_expired_total",
		Help: "Verification items garbage-collected past their expiry height",
	})

	PermanentFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_verify_permanent_failures_total",
		Help: "Transactions conclusively rejected on-chain",
	})

	Errors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_verify_errors_total",
		Help: "Transition application or persistence errors",
	})

	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kestrel_open_positions",
		Help: "Currently open positions",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kestrel_verify_queue_depth",
		Help: "Live verification queue size",
	})
)

func init() {
	prometheus.MustRegister(
		Operations,
		Verified,
		Retries,
		Abandoned,
		Expired,
		PermanentFailures,
		Errors,
		OpenPositions,
		QueueDepth,
	)
}
