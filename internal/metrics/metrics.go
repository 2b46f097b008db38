// Package metrics defines the bridge's Prometheus collectors.
//
// Collectors are registered once at package init via promauto and shared
// by the vehicle sessions, the HTTP layer, and the MQTT publisher. The
// /metrics endpoint on the API server exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "teslabridge"

// Connection state gauge values.
const (
	StateValueStopped    = 0
	StateValueConnecting = 1
	StateValueDegraded   = 2
	StateValueReady      = 3
)

var (
	// ConnectionState tracks each vehicle's session state
	// (0 stopped, 1 connecting, 2 degraded, 3 ready).
	ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "vehicle",
		Name:      "connection_state",
		Help:      "Session state per vehicle: 0 stopped, 1 connecting, 2 degraded, 3 ready.",
	}, []string{"vehicle"})

	// ReconnectsTotal counts successful reconnections per vehicle.
	ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vehicle",
		Name:      "reconnects_total",
		Help:      "Successful reconnections to the vehicle controller.",
	}, []string{"vehicle"})

	// StateUpdatesTotal counts state frames applied to the registry.
	StateUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vehicle",
		Name:      "state_updates_total",
		Help:      "Entity state updates applied per vehicle.",
	}, []string{"vehicle"})

	// EntityCount tracks the size of each vehicle's entity snapshot.
	EntityCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "vehicle",
		Name:      "entities",
		Help:      "Entities in the current discovery snapshot.",
	}, []string{"vehicle"})

	// CommandsTotal counts executed commands by outcome
	// (ok, rejected, timeout, not_ready, unknown, error).
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "command",
		Name:      "executions_total",
		Help:      "Fleet command executions by vehicle, command, and outcome.",
	}, []string{"vehicle", "command", "outcome"})

	// CommandDuration observes end-to-end command latency including the
	// acknowledgement round trip.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "command",
		Name:      "duration_seconds",
		Help:      "Command execution latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})

	// HTTPRequestDuration observes API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})

	// MQTTPublishesTotal counts MQTT publish attempts by result (ok, error).
	MQTTPublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mqtt",
		Name:      "publishes_total",
		Help:      "MQTT publish attempts by result.",
	}, []string{"result"})

	// NotifierDropsTotal counts change events dropped under backpressure.
	NotifierDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Change events dropped due to a full notifier queue.",
	})
)
