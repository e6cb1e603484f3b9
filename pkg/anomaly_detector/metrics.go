package anomaly_detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Prometheus collectors shared by all detectors of a process.
// Every series is a label value, so one Metrics can serve many detectors.
type Metrics struct {
	samples      *prometheus.CounterVec
	suppressed   *prometheus.CounterVec
	clamped      *prometheus.CounterVec
	anomalies    *prometheus.CounterVec
	rawScore     *prometheus.HistogramVec
	contexts     *prometheus.GaugeVec
	semiContexts *prometheus.GaugeVec
	stepDuration *prometheus.HistogramVec
	newContexts  *prometheus.CounterVec
}

// NewMetrics registers the detector collectors on reg.
// Pass prometheus.NewRegistry() in tests to avoid global registration clashes.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		samples: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cad",
			Subsystem: "detector",
			Name:      "samples_total",
			Help:      "Samples scored per series",
		}, []string{"series"}),
		suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cad",
			Subsystem: "detector",
			Name:      "suppressed_total",
			Help:      "Positive raw scores zeroed by the refractory window",
		}, []string{"series"}),
		clamped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cad",
			Subsystem: "detector",
			Name:      "clamped_total",
			Help:      "Samples clamped into the encoder range",
		}, []string{"series"}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cad",
			Subsystem: "detector",
			Name:      "anomalies_total",
			Help:      "Emitted scores at or above the base threshold",
		}, []string{"series"}),
		rawScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cad",
			Subsystem: "detector",
			Name:      "raw_score",
			Help:      "Distribution of raw (pre-suppression) anomaly scores",
			Buckets:   []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 1.0},
		}, []string{"series"}),
		contexts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cad",
			Subsystem: "graph",
			Name:      "contexts",
			Help:      "Contexts stored in the graph",
		}, []string{"series"}),
		semiContexts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cad",
			Subsystem: "graph",
			Name:      "semi_contexts",
			Help:      "Semi-contexts stored per side",
		}, []string{"series", "side"}),
		newContexts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cad",
			Subsystem: "graph",
			Name:      "new_contexts_total",
			Help:      "Contexts admitted by crossing steps",
		}, []string{"series"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cad",
			Subsystem: "detector",
			Name:      "step_duration_seconds",
			Help:      "Time spent scoring one sample",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"series"}),
	}
}

func (m *Metrics) observe(series string, r Result, seconds float64) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(series).Inc()
	m.rawScore.WithLabelValues(series).Observe(r.RawScore)
	m.stepDuration.WithLabelValues(series).Observe(seconds)
	m.newContexts.WithLabelValues(series).Add(float64(r.NewContexts))
	m.contexts.WithLabelValues(series).Set(float64(r.Graph.Contexts))
	m.semiContexts.WithLabelValues(series, "left").Set(float64(r.Graph.LeftSemiContexts))
	m.semiContexts.WithLabelValues(series, "right").Set(float64(r.Graph.RightSemiContexts))
	if r.Suppressed {
		m.suppressed.WithLabelValues(series).Inc()
	}
	if r.Clamped {
		m.clamped.WithLabelValues(series).Inc()
	}
	if r.Anomalous {
		m.anomalies.WithLabelValues(series).Inc()
	}
}
