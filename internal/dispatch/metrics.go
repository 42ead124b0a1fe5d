package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts dispatcher outcomes, labelled by event type.
type Metrics struct {
	sent     *prometheus.CounterVec
	deduped  *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	fallback *prometheus.CounterVec
}

// NewMetrics registers the dispatcher counters on the given registerer. Pass
// a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracking_events_sent_total",
			Help: "Conversion events delivered to the backend.",
		}, []string{"event_type"}),
		deduped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracking_events_deduplicated_total",
			Help: "Events suppressed by a dedup record or window.",
		}, []string{"event_type"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracking_events_dropped_total",
			Help: "Events lost after both transports failed.",
		}, []string{"event_type"}),
		fallback: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracking_events_pixel_fallback_total",
			Help: "Events delivered via the pixel transport.",
		}, []string{"event_type"}),
	}
}
