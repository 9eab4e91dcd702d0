// Package metric defines the Prometheus instrumentation for the
// service: broker connectivity, message traffic per destination, and
// the detection pipeline.
package metric

import "github.com/prometheus/client_golang/prometheus"

const namespace = "atrbridge"

// Metrics holds every collector the service records into. All fields
// are registered on construction and safe for concurrent use.
type Metrics struct {
	// Broker connectivity
	BrokerConnected prometheus.Gauge
	ConnectAttempts prometheus.Counter

	// Message traffic
	MessagesReceived  *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec

	// Detection pipeline
	DetectionsTotal     prometheus.Counter
	DetectionsPublished prometheus.Counter
	DetectionsFiltered  prometheus.Counter
	InferenceDuration   prometheus.Histogram
	ProcessingErrors    prometheus.Counter
}

// New creates the service metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BrokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "Whether the broker connection is established (1) or not (0)",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connect_attempts_total",
			Help:      "Total broker connection attempts, including retries",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Total messages received from the broker",
		}, []string{"destination"}),
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "published_total",
			Help:      "Total messages published to the broker",
		}, []string{"destination"}),
		DetectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detections",
			Name:      "total",
			Help:      "Total detections returned by the inference engine",
		}),
		DetectionsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detections",
			Name:      "published_total",
			Help:      "Detections that passed the confidence threshold and were published",
		}),
		DetectionsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detections",
			Name:      "filtered_total",
			Help:      "Detections dropped by the confidence threshold",
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Time spent in the inference engine per file",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ProcessingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      "errors_total",
			Help:      "Notifications that failed during parsing, inference, or publishing",
		}),
	}

	reg.MustRegister(
		m.BrokerConnected,
		m.ConnectAttempts,
		m.MessagesReceived,
		m.MessagesPublished,
		m.DetectionsTotal,
		m.DetectionsPublished,
		m.DetectionsFiltered,
		m.InferenceDuration,
		m.ProcessingErrors,
	)
	return m
}
