// Package metrics exposes the server's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_sessions_created_total",
		Help: "Number of conferencing sessions created.",
	})

	PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_peers_connected",
		Help: "Number of currently connected signaling peers.",
	})

	ConsumersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_consumers_created_total",
		Help: "Number of media consumers created, replicas included.",
	})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_notifications_dropped_total",
		Help: "Number of peer notifications dropped due to backpressure or closed connections.",
	})
)
