package metrics

import "github.com/prometheus/client_golang/prometheus"

// ClientMetrics exposes counters/histograms for booking client flows.
type ClientMetrics struct {
	outcomesTotal  *prometheus.CounterVec
	rollbacksTotal *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	retriesTotal   *prometheus.CounterVec
}

func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	m := &ClientMetrics{
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking_client",
			Name:      "outcomes_total",
			Help:      "Booking operations by result kind",
		}, []string{"op", "kind"}),
		rollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking_client",
			Name:      "rollbacks_total",
			Help:      "Optimistic gestures reverted after rejection",
		}, []string{"kind"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking_client",
			Name:      "request_latency_seconds",
			Help:      "Latency of scheduling backend requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking_client",
			Name:      "retries_total",
			Help:      "Retried idempotent requests",
		}, []string{"op"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outcomesTotal, m.rollbacksTotal, m.requestLatency, m.retriesTotal)
	return m
}

func (m *ClientMetrics) ObserveOutcome(op, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	m.outcomesTotal.WithLabelValues(op, kind).Inc()
}

func (m *ClientMetrics) ObserveRollback(kind string) {
	if m == nil {
		return
	}
	m.rollbacksTotal.WithLabelValues(kind).Inc()
}

func (m *ClientMetrics) ObserveRequest(op, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(op, status).Observe(seconds)
}

func (m *ClientMetrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(op).Inc()
}

// SchedulingMetrics exposes counters for the scheduling backend.
type SchedulingMetrics struct {
	writesTotal      *prometheus.CounterVec
	conflictsTotal   *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	feedClients      prometheus.Gauge
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		writesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "writes_total",
			Help:      "Booking writes by operation and result",
		}, []string{"op", "result"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "conflicts_total",
			Help:      "Writes rejected for overlapping an existing booking",
		}, []string{"op"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Status transitions applied",
		}, []string{"to"}),
		feedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "feed_clients",
			Help:      "Connected change-feed subscribers",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.writesTotal, m.conflictsTotal, m.transitionsTotal, m.feedClients)
	return m
}

func (m *SchedulingMetrics) ObserveWrite(op, result string) {
	if m == nil {
		return
	}
	m.writesTotal.WithLabelValues(op, result).Inc()
}

func (m *SchedulingMetrics) ObserveConflict(op string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(op).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to).Inc()
}

func (m *SchedulingMetrics) FeedClientDelta(delta float64) {
	if m == nil {
		return
	}
	m.feedClients.Add(delta)
}
