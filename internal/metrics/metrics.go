// Package metrics exposes Prometheus instruments for the allocation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "workshop"

// Metrics groups every instrument. All methods are safe on a nil receiver.
type Metrics struct {
	registrations       *prometheus.CounterVec
	cancellations       *prometheus.CounterVec
	confirmations       *prometheus.CounterVec
	windowsOpened       prometheus.Counter
	expirations         prometheus.Counter
	attendance          *prometheus.CounterVec
	invariantViolations *prometheus.CounterVec
	notificationsFailed *prometheus.CounterVec
	sweepDuration       prometheus.Histogram
	remindersSent       *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the instruments and registers them on reg
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Cancelled registrations by previous status.",
		}, []string{"status"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Confirmation attempts by outcome.",
		}, []string{"outcome"}),
		windowsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmation_windows_opened_total",
			Help:      "Registrations moved to pending confirmation.",
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmation_expirations_total",
			Help:      "Pending registrations evicted after their deadline.",
		}),
		attendance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_marked_total",
			Help:      "Attendance marks by value.",
		}, []string{"present"}),
		invariantViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Detected capacity or waitlist ordering violations.",
		}, []string{"kind"}),
		notificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be handed to the notifier.",
		}, []string{"kind"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_duration_seconds",
			Help:      "Duration of one expiry sweep over all active workshops.",
			Buckets:   prometheus.DefBuckets,
		}),
		remindersSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Reminders sent by kind.",
		}, []string{"kind"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.registrations, m.cancellations, m.confirmations, m.windowsOpened,
		m.expirations, m.attendance, m.invariantViolations, m.notificationsFailed,
		m.sweepDuration, m.remindersSent,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Registration(outcome string) {
	if m != nil {
		m.registrations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Cancellation(status string) {
	if m != nil {
		m.cancellations.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Confirmation(outcome string) {
	if m != nil {
		m.confirmations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) WindowsOpened(n int) {
	if m != nil {
		m.windowsOpened.Add(float64(n))
	}
}

func (m *Metrics) Expired(n int) {
	if m != nil {
		m.expirations.Add(float64(n))
	}
}

func (m *Metrics) Attendance(present bool) {
	if m == nil {
		return
	}
	label := "false"
	if present {
		label = "true"
	}
	m.attendance.WithLabelValues(label).Inc()
}

func (m *Metrics) InvariantViolation(kind string) {
	if m != nil {
		m.invariantViolations.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) NotificationFailed(kind string) {
	if m != nil {
		m.notificationsFailed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.sweepDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ReminderSent(kind string) {
	if m != nil {
		m.remindersSent.WithLabelValues(kind).Inc()
	}
}
