package observability

import "github.com/prometheus/client_golang/prometheus"

const namespace = "fulfillment"

// Metrics groups the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	allocations      *prometheus.CounterVec
	versionConflicts prometheus.Counter
	salesCreated     prometheus.Counter
	notifications    *prometheus.CounterVec
	mediaResolutions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_allocations_total",
			Help:      "Pool allocation attempts by outcome.",
		}, []string{"outcome"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_version_conflicts_total",
			Help:      "Conditional writes rejected because another caller claimed the unit first.",
		}),
		salesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_created_total",
			Help:      "Sales committed to the row store.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by outcome.",
		}, []string{"outcome"}),
		mediaResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_resolutions_total",
			Help:      "Media gateway lookups by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.allocations, m.versionConflicts, m.salesCreated, m.notifications, m.mediaResolutions)
	return m
}

func (m *Metrics) Allocation(outcome string) {
	if m != nil {
		m.allocations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) VersionConflict() {
	if m != nil {
		m.versionConflicts.Inc()
	}
}

func (m *Metrics) SaleCreated() {
	if m != nil {
		m.salesCreated.Inc()
	}
}

func (m *Metrics) Notification(outcome string) {
	if m != nil {
		m.notifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) MediaResolution(outcome string) {
	if m != nil {
		m.mediaResolutions.WithLabelValues(outcome).Inc()
	}
}
