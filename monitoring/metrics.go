package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "torpath"

// Label values used by the result dimension of the counters below.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultTimeout = "timeout"
)

// Metrics holds every metric exported by the daemon. All methods are safe to
// call on a nil *Metrics, which turns them into no-ops so components never
// need to check whether monitoring is enabled.
type Metrics struct {
	registry *prometheus.Registry

	catalogRelays    prometheus.Gauge
	familyRelays     prometheus.Gauge
	pathSelections   *prometheus.CounterVec
	buildAttempts    *prometheus.CounterVec
	buildDuration    prometheus.Histogram
	builderState     *prometheus.GaugeVec
	streamEvents     *prometheus.CounterVec
	streamAttaches   *prometheus.CounterVec
	controlConnected prometheus.Gauge
}

// NewMetrics creates the metrics and registers them on a fresh registry,
// together with the standard process and Go runtime collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		catalogRelays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_relays",
			Help:      "Number of relays loaded into the catalog.",
		}),
		familyRelays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "family_relays",
			Help:      "Number of relays with a family declaration.",
		}),
		pathSelections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "path_selections_total",
				Help:      "Path selection attempts by result.",
			}, []string{"strategy", "result"},
		),
		buildAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_build_attempts_total",
				Help:      "Circuit build requests by result.",
			}, []string{"result"},
		),
		buildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "circuit_build_seconds",
				Help:      "Time from build request to answer.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		builderState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "builder_state",
				Help:      "Set to 1 for the current builder state.",
			}, []string{"state"},
		),
		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Stream events seen by status.",
			}, []string{"status"},
		),
		streamAttaches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_attaches_total",
				Help:      "Stream attach requests by result.",
			}, []string{"result"},
		),
		controlConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "control_connected",
			Help:      "Whether the control port session is up.",
		}),
	}

	m.registry.MustRegister(
		m.catalogRelays, m.familyRelays, m.pathSelections,
		m.buildAttempts, m.buildDuration, m.builderState,
		m.streamEvents, m.streamAttaches, m.controlConnected,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(
			prometheus.ProcessCollectorOpts{},
		),
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// SetCatalogSize records the size of the loaded catalog and family index.
func (m *Metrics) SetCatalogSize(relays, families int) {
	if m == nil {
		return
	}

	m.catalogRelays.Set(float64(relays))
	m.familyRelays.Set(float64(families))
}

// ObservePathSelection counts one path selection attempt.
func (m *Metrics) ObservePathSelection(strategy string, ok bool) {
	if m == nil {
		return
	}

	m.pathSelections.WithLabelValues(strategy, result(ok)).Inc()
}

// ObserveBuild counts one build request with the given result label and
// records how long it took.
func (m *Metrics) ObserveBuild(resultLabel string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.buildAttempts.WithLabelValues(resultLabel).Inc()
	m.buildDuration.Observe(elapsed.Seconds())
}

// SetBuilderState marks state as the current builder state and clears the
// previous one.
func (m *Metrics) SetBuilderState(prev, state string) {
	if m == nil {
		return
	}

	if prev != "" {
		m.builderState.WithLabelValues(prev).Set(0)
	}
	m.builderState.WithLabelValues(state).Set(1)
}

// ObserveStreamEvent counts one stream event by status.
func (m *Metrics) ObserveStreamEvent(status string) {
	if m == nil {
		return
	}

	m.streamEvents.WithLabelValues(status).Inc()
}

// ObserveAttach counts one attach request.
func (m *Metrics) ObserveAttach(ok bool) {
	if m == nil {
		return
	}

	m.streamAttaches.WithLabelValues(result(ok)).Inc()
}

// SetControlConnected records whether the control session is up.
func (m *Metrics) SetControlConnected(up bool) {
	if m == nil {
		return
	}

	if up {
		m.controlConnected.Set(1)
	} else {
		m.controlConnected.Set(0)
	}
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}

	return ResultFailure
}
