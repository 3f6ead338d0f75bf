package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkoutsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_begin_total",
		Help: "Checkouts that created a local order and a remote payment order.",
	})
	checkoutsPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_paid_total",
		Help: "Checkouts captured and transitioned to Paid.",
	})
	checkoutFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failures_total",
		Help: "Checkout failures by stage and error kind.",
	}, []string{"stage", "kind"})
	checkoutDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "Duration of checkout operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// Metric accessors for tests; the metrics themselves are registered globally
// via promauto, so tests measure increments rather than absolute values.

func GetCheckoutsStartedTotal() prometheus.Counter { return checkoutsStartedTotal }

func GetCheckoutsPaidTotal() prometheus.Counter { return checkoutsPaidTotal }

func GetCheckoutFailuresTotal() *prometheus.CounterVec { return checkoutFailuresTotal }

func GetCheckoutDurationSeconds() *prometheus.HistogramVec { return checkoutDurationSeconds }
