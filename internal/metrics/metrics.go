package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every engine metric. All metrics are registered on the
// provided registry so tests can use isolated registries.
type Metrics struct {
	PacketsProcessed *prometheus.CounterVec
	ThreatsDetected  *prometheus.CounterVec
	ScoreRequests    *prometheus.CounterVec
	PublishDrops     prometheus.Counter
	StreamTeardowns  prometheus.Counter

	ActiveStreams prometheus.Gauge
	Subscribers   prometheus.Gauge
	GatewayUp     prometheus.Gauge
}

// NewMetrics creates and registers the engine metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracel_packets_processed_total",
				Help: "Total number of packets run through the classification pipeline",
			},
			[]string{"mode"},
		),
		ThreatsDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracel_threats_detected_total",
				Help: "Total number of packets classified as anomalous",
			},
			[]string{"vector"},
		),
		ScoreRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracel_score_requests_total",
				Help: "Total scoring gateway lookups by outcome",
			},
			[]string{"outcome"}, // scored, absent
		),
		PublishDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracel_publish_drops_total",
				Help: "Records dropped because a subscriber channel was full",
			},
		),
		StreamTeardowns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracel_stream_teardowns_total",
				Help: "Owner streams torn down after the idle TTL elapsed",
			},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracel_active_streams",
				Help: "Owner streams currently running",
			},
		),
		Subscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracel_ws_subscribers",
				Help: "Subscribers currently attached across all owners",
			},
		),
		GatewayUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracel_gateway_up",
				Help: "Whether the scoring gateway responded to the last health poll",
			},
		),
	}
}

// ScoreOutcome labels for ScoreRequests.
const (
	OutcomeScored = "scored"
	OutcomeAbsent = "absent"
)
