package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "zapys"

// Metrics holds the process collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	UpdateProcessingTime prometheus.Histogram
	UpdatesTotal         *prometheus.CounterVec
	PanicsTotal          prometheus.Counter
	RateLimitedTotal     prometheus.Counter
	ReservationsTotal    *prometheus.CounterVec
	ConflictsTotal       prometheus.Counter
	RemoteFailures       *prometheus.CounterVec
	RemoteCallDuration   *prometheus.HistogramVec
	CacheLookups         *prometheus.CounterVec
	RemindersSent        *prometheus.CounterVec
	NotificationsDropped prometheus.Counter
	SessionFailovers     prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UpdateProcessingTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_processing_time_seconds",
			Help:      "Time spent processing Telegram updates.",
			Buckets:   prometheus.DefBuckets,
		}),
		UpdatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Telegram updates by kind.",
		}, []string{"kind"}),
		PanicsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_recovered_total",
			Help:      "Panics recovered while handling updates.",
		}),
		RateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Messages rejected by the per-user rate limit.",
		}),
		ReservationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation lifecycle operations.",
		}, []string{"action"}),
		ConflictsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_conflicts_total",
			Help:      "Reservation attempts rejected because the slot was taken.",
		}),
		RemoteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_failures_total",
			Help:      "Failed remote calendar calls by operation.",
		}, []string{"op"}),
		RemoteCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Remote calendar call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Availability cache lookups by result.",
		}, []string{"result"}),
		RemindersSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Reminders sent by lead time in minutes.",
		}, []string{"lead"}),
		NotificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Outbound notifications dropped because the queue was full.",
		}),
		SessionFailovers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_store_failovers_total",
			Help:      "Switches from redis to the in-memory session store.",
		}),
	}
}

func (m *Metrics) ObserveUpdate(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpdatesTotal.WithLabelValues(kind).Inc()
	m.UpdateProcessingTime.Observe(d.Seconds())
}

func (m *Metrics) IncPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

func (m *Metrics) IncReservation(action string) {
	if m == nil {
		return
	}
	m.ReservationsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.ConflictsTotal.Inc()
}

// ObserveRemote records latency and, on error, a failure for op.
func (m *Metrics) ObserveRemote(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RemoteCallDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		m.RemoteFailures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) IncReminder(leadMinutes int) {
	if m == nil {
		return
	}
	m.RemindersSent.WithLabelValues(strconv.Itoa(leadMinutes)).Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

func (m *Metrics) IncFailover() {
	if m == nil {
		return
	}
	m.SessionFailovers.Inc()
}
