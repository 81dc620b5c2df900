package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the hub's Prometheus collectors.
type Metrics struct {
	Connections      prometheus.Gauge
	OnlineUsers      prometheus.Gauge
	Delivered        prometheus.Counter
	Duplicates       prometheus.Counter
	DeliveryFailures *prometheus.CounterVec
	DroppedFrames    prometheus.Counter
	PresenceEvents   *prometheus.CounterVec
}

// NewMetrics registers the hub collectors with reg. A nil reg creates
// unregistered collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "forumdm", Subsystem: "hub", Name: "connections",
			Help: "Authenticated websocket connections on this node.",
		}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "forumdm", Subsystem: "hub", Name: "online_users",
			Help: "Users with at least one connection on this node.",
		}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "forumdm", Subsystem: "hub", Name: "messages_delivered_total",
			Help: "Messages persisted and fanned out.",
		}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: "forumdm", Subsystem: "hub", Name: "messages_duplicated_total",
			Help: "Sends whose correlation token was already stored.",
		}),
		DeliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forumdm", Subsystem: "hub", Name: "delivery_failures_total",
			Help: "Rejected sends by reason.",
		}, []string{"reason"}),
		DroppedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: "forumdm", Subsystem: "hub", Name: "dropped_frames_total",
			Help: "Frames not queued because a connection's send buffer was full.",
		}),
		PresenceEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forumdm", Subsystem: "hub", Name: "presence_events_total",
			Help: "Presence transitions announced.",
		}, []string{"state"}),
	}
}
