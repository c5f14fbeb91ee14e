package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics holds the Prometheus collectors the monitoring service
// updates as it records routing decisions and forward results. They are
// registered against the default registry so cmd/protogate's /metrics
// handler picks them up without wiring each counter by hand.
type promMetrics struct {
	received  *prometheus.CounterVec
	forwarded *prometheus.CounterVec
}

func newPromMetrics() *promMetrics {
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "protogate",
		Subsystem: "monitoring",
		Name:      "messages_received_total",
		Help:      "Total messages routed by the gateway, labeled by source protocol and data source.",
	}, []string{"source_protocol", "data_source_id"})
	forwarded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "protogate",
		Subsystem: "monitoring",
		Name:      "messages_forwarded_total",
		Help:      "Total forward attempts, labeled by source protocol and outcome.",
	}, []string{"source_protocol", "outcome"})

	return &promMetrics{
		received:  registerOrReuse(received).(*prometheus.CounterVec),
		forwarded: registerOrReuse(forwarded).(*prometheus.CounterVec),
	}
}

// registerOrReuse registers c against the default registry, or — if a
// collector with the same descriptor is already registered (multiple
// monitoring.Service instances in a test process, for example) — returns
// the already-registered collector instead of panicking.
func registerOrReuse(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}
