// Package metrics exposes the Prometheus counters and gauges the
// partition-group manager and its messaging transport publish.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var once sync.Once

var (
	// KnownMembers is the number of cluster members currently visible to
	// this node's membership service.
	KnownMembers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atomix_partition_group",
		Name:      "known_members",
		Help:      "Current number of cluster members known to this node",
	})

	// BootstrapAttempts counts bootstrap rounds, labeled by what was still
	// missing ("system" or "data" for "retry" outcomes, "all" for the
	// "complete" outcome).
	BootstrapAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atomix_partition_group",
		Name:      "bootstrap_attempts_total",
		Help:      "Total number of bootstrap rounds attempted per group",
	}, []string{"group", "outcome"})

	// ConfigurationConflicts counts rejected merges caused by a
	// name/type mismatch between local and remote group records.
	ConfigurationConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atomix_partition_group",
		Name:      "configuration_conflicts_total",
		Help:      "Total number of configuration conflicts detected while merging group membership",
	}, []string{"group"})

	// EventsEmitted counts membership change events posted to listeners,
	// labeled by event type.
	EventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atomix_partition_group",
		Name:      "events_emitted_total",
		Help:      "Total number of partition-group membership events posted to listeners",
	}, []string{"type"})

	// GRPCConnDials counts new gRPC connections dialed by the messaging transport.
	GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atomix_partition_group",
		Subsystem: "grpc_conn",
		Name:      "dials_total",
		Help:      "Total number of new gRPC connections dialed",
	})
	// GRPCConnReuse counts cache hits against an already-dialed connection.
	GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atomix_partition_group",
		Subsystem: "grpc_conn",
		Name:      "reuse_total",
		Help:      "Total number of gRPC connection reuses from cache",
	})
	// GRPCConnEvictions counts idle connections closed by the janitor.
	GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atomix_partition_group",
		Subsystem: "grpc_conn",
		Name:      "evictions_total",
		Help:      "Total number of cached gRPC connections evicted",
	})
	// GRPCConnActive is the current size of the connection cache.
	GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atomix_partition_group",
		Subsystem: "grpc_conn",
		Name:      "active",
		Help:      "Number of active cached gRPC connections",
	})

	// MessagingSendTotal counts outbound messaging requests, labeled by
	// subject and result ("ok", "no_remote_handler", "timeout", "error").
	MessagingSendTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atomix_partition_group",
		Subsystem: "messaging",
		Name:      "send_total",
		Help:      "Total number of messaging requests sent, labeled by subject and result",
	}, []string{"subject", "result"})

	// MessagingHandlers is the number of subjects currently subscribed
	// to on this node.
	MessagingHandlers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atomix_partition_group",
		Subsystem: "messaging",
		Name:      "handlers",
		Help:      "Number of subjects currently subscribed to on this node",
	})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(KnownMembers)
		prometheus.MustRegister(BootstrapAttempts)
		prometheus.MustRegister(ConfigurationConflicts)
		prometheus.MustRegister(EventsEmitted)
		prometheus.MustRegister(GRPCConnDials)
		prometheus.MustRegister(GRPCConnReuse)
		prometheus.MustRegister(GRPCConnEvictions)
		prometheus.MustRegister(GRPCConnActive)
		prometheus.MustRegister(MessagingSendTotal)
		prometheus.MustRegister(MessagingHandlers)
	})
}
