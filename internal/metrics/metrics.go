package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for slot resolution and booking.
type BookingMetrics struct {
	bookingsTotal   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	slotsOffered    prometheus.Histogram
	resolveDuration prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "status_transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"to"}),
		slotsOffered: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "slots",
			Name:      "offered",
			Help:      "Number of offerable slots returned per resolution",
			Buckets:   []float64{0, 1, 2, 4, 8, 12, 16, 24, 32, 48},
		}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "slots",
			Name:      "resolve_seconds",
			Help:      "Latency of offerable slot resolution including data loading",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitions, m.slotsOffered, m.resolveDuration)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *BookingMetrics) ObserveResolve(offered int, seconds float64) {
	if m == nil {
		return
	}
	m.slotsOffered.Observe(float64(offered))
	m.resolveDuration.Observe(seconds)
}
