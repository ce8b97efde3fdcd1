// Package metrics provides Prometheus instrumentation for the chat server:
// gauges for live connections and rooms, counters for message and reaction
// throughput, and a histogram for fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message sources.
const (
	SourceWS   = "ws"
	SourceREST = "rest"
)

var (
	// ConnectionsActive tracks the current number of WebSocket connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studysphere_chat_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	// RoomSubscriptions tracks connection/room subscriptions across all rooms.
	RoomSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studysphere_chat_room_subscriptions",
		Help: "Current number of connection subscriptions to rooms",
	})

	// RoomsLive tracks the number of running room hubs.
	RoomsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studysphere_chat_rooms_live",
		Help: "Current number of live room hubs",
	})

	// MessagesTotal counts persisted messages by the channel they arrived on.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studysphere_chat_messages_total",
		Help: "Total number of chat messages posted",
	}, []string{"source"}) // source = "ws", "rest"

	// ReactionsTotal counts reaction toggles, labeled by whether they added.
	ReactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studysphere_chat_reactions_total",
		Help: "Total number of reaction toggles",
	}, []string{"added"})

	// FramesDropped counts frames dropped because a connection queue was full.
	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studysphere_chat_frames_dropped_total",
		Help: "Frames dropped for slow consumers",
	})

	// BroadcastLatency records the time to fan a frame out to a room's local subscribers.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "studysphere_chat_broadcast_latency_seconds",
		Help:    "Room fan-out latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		RoomSubscriptions,
		RoomsLive,
		MessagesTotal,
		ReactionsTotal,
		FramesDropped,
		BroadcastLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
