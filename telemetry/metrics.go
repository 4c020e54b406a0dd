// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the node exposes, grouped
// by subsystem. Pass a *Metrics (or nil) to constructors across the
// module; nil metrics still work, they're just a lazily-created
// unregistered instance so tests never need a registry.
type Metrics struct {
	EventsAppended        *prometheus.CounterVec
	SyncMessagesGenerated prometheus.Counter
	PacketsRouted         *prometheus.CounterVec
	BackpropRecordsActive prometheus.Gauge
	PendingQueueDepth     *prometheus.GaugeVec
	ArtifactGrantsActive  prometheus.Gauge
	MessagesDropped       *prometheus.CounterVec
}

// NewMetrics constructs every collector and, if reg is non-nil,
// registers them against it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indranet",
			Name:      "events_appended_total",
			Help:      "Interface events appended to a document's log, by kind.",
		}, []string{"kind"}),
		SyncMessagesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "indranet",
			Name:      "sync_messages_generated_total",
			Help:      "Non-empty sync messages generated for peers.",
		}),
		PacketsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indranet",
			Name:      "packets_routed_total",
			Help:      "Routing decisions made, by outcome.",
		}, []string{"decision"}),
		BackpropRecordsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "indranet",
			Name:      "backprop_records_active",
			Help:      "Back-propagation records awaiting an ack or timeout.",
		}),
		PendingQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "indranet",
			Name:      "pending_queue_depth",
			Help:      "Events awaiting delivery, by destination peer.",
		}, []string{"peer"}),
		ArtifactGrantsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "indranet",
			Name:      "artifact_grants_active",
			Help:      "Access grants currently valid across the artifact index.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indranet",
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped before reaching the application, by reason.",
		}, []string{"reason"}),
	}

	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{
		m.EventsAppended, m.SyncMessagesGenerated, m.PacketsRouted,
		m.BackpropRecordsActive, m.PendingQueueDepth, m.ArtifactGrantsActive,
		m.MessagesDropped,
	} {
		reg.MustRegister(c)
	}
	return m
}

// NewUnregisteredMetrics is a convenience for tests and components
// that only want working collectors without a live registry.
func NewUnregisteredMetrics() *Metrics {
	return NewMetrics(nil)
}
