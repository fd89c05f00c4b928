package metrics

import "github.com/prometheus/client_golang/prometheus"

// Agenda exposes counters and histograms for the scheduling core.
type Agenda struct {
	bookingsTotal      *prometheus.CounterVec
	occurrencesSkipped prometheus.Counter
	gateDenied         prometheus.Counter
	statusChanges      *prometheus.CounterVec
	subscriptions      *prometheus.CounterVec
	outboxPublished    *prometheus.CounterVec
	bookingLatency     prometheus.Histogram
}

func New(reg prometheus.Registerer) *Agenda {
	m := &Agenda{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "booking",
			Name:      "requests_total",
			Help:      "Booking requests by outcome",
		}, []string{"outcome"}),
		occurrencesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "booking",
			Name:      "occurrences_skipped_total",
			Help:      "Recurring occurrences skipped because the slot was taken",
		}),
		gateDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "entitlement",
			Name:      "denied_total",
			Help:      "Operations refused because the subscription is not active",
		}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "appointment",
			Name:      "status_changes_total",
			Help:      "Appointment status transitions by target status",
		}, []string{"status"}),
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "entitlement",
			Name:      "extensions_total",
			Help:      "Subscription records appended from payment approvals",
		}, []string{"provider"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events delivered to Kafka",
		}, []string{"event_type"}),
		bookingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agenda",
			Subsystem: "booking",
			Name:      "create_seconds",
			Help:      "Latency of appointment creation including recurrence",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.occurrencesSkipped, m.gateDenied, m.statusChanges,
		m.subscriptions, m.outboxPublished, m.bookingLatency)
	return m
}

func (m *Agenda) ObserveBooking(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
	m.bookingLatency.Observe(seconds)
}

func (m *Agenda) ObserveSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.occurrencesSkipped.Add(float64(n))
}

func (m *Agenda) ObserveGateDenied() {
	if m == nil {
		return
	}
	m.gateDenied.Inc()
}

func (m *Agenda) ObserveStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

func (m *Agenda) ObserveSubscriptionExtended(provider string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(provider).Inc()
}

func (m *Agenda) ObserveOutboxPublished(eventType string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(eventType).Inc()
}
