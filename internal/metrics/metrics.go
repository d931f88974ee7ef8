// Package metrics holds the Prometheus collectors shared by the realtime core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "realtime"

// Registry is the process-wide registry served on the metrics port.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	RetryAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_attempts_total",
		Help:      "Operation attempts made under a retry policy, by outcome.",
	}, []string{"op", "outcome"})

	DegradedReads = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "degraded_reads_total",
		Help:      "Reads that returned their default value after a transient failure.",
	}, []string{"op"})

	ResolverLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "media_resolver_lookups_total",
		Help:      "Resource resolver cache lookups, by result.",
	}, []string{"result"})

	NotificationsEmitted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_emitted_total",
		Help:      "Notification events written, by type.",
	}, []string{"type"})

	PushFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_failures_total",
		Help:      "Push sink deliveries that failed and were dropped.",
	})

	ActiveSubscriptions = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_subscriptions",
		Help:      "Live push subscriptions, by kind.",
	}, []string{"kind"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
