package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the booking-service collectors. A nil *Metrics is valid and
// records nothing, which keeps tests and tools free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	slotQueries       *prometheus.CounterVec
	slotQueryDuration *prometheus.HistogramVec
	slotsReturned     *prometheus.HistogramVec
	blockedIntervals  *prometheus.HistogramVec
	calendarFailures  prometheus.Counter
	slotConflicts     *prometheus.CounterVec
	outboxPublished   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		slotQueries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_slot_queries_total",
			Help: "Availability queries by kind and outcome.",
		}, []string{"kind", "outcome"}),
		slotQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "booking_slot_query_duration_seconds",
			Help:    "Time spent resolving availability.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		slotsReturned: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "booking_slots_returned",
			Help:    "Number of open slots returned per listing query.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"kind"}),
		blockedIntervals: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "booking_blocked_intervals",
			Help:    "Blocked intervals collected per query by source.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}, []string{"source"}),
		calendarFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "booking_external_calendar_failures_total",
			Help: "External calendar lookups that failed and contributed no blocks.",
		}),
		slotConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_slot_conflicts_total",
			Help: "Requests rejected because the slot was no longer free.",
		}, []string{"flow"}),
		outboxPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_outbox_events_total",
			Help: "Outbox events by publish outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SlotQuery(kind string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.slotQueries.WithLabelValues(kind, outcome).Inc()
	m.slotQueryDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) SlotsReturned(kind string, n int) {
	if m == nil {
		return
	}
	m.slotsReturned.WithLabelValues(kind).Observe(float64(n))
}

func (m *Metrics) BlockedIntervals(source string, n int) {
	if m == nil {
		return
	}
	m.blockedIntervals.WithLabelValues(source).Observe(float64(n))
}

func (m *Metrics) CalendarFailure() {
	if m == nil {
		return
	}
	m.calendarFailures.Inc()
}

func (m *Metrics) SlotConflict(flow string) {
	if m == nil {
		return
	}
	m.slotConflicts.WithLabelValues(flow).Inc()
}

func (m *Metrics) OutboxPublished(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.outboxPublished.WithLabelValues("error").Inc()
		return
	}
	m.outboxPublished.WithLabelValues("published").Add(float64(n))
}
