package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pilgrimops_realtime_connections",
		Help: "Live realtime connections",
	}, []string{"transport"})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pilgrimops_realtime_events_published_total",
		Help: "Events published, by type and delivery scope",
	}, []string{"type", "scope"})

	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pilgrimops_realtime_events_delivered_total",
		Help: "Event frames queued to connections",
	}, []string{"type"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pilgrimops_realtime_frames_dropped_total",
		Help: "Frames dropped because a connection's outbound queue was full or closed",
	}, []string{"transport"})
)
