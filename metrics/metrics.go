// Package metrics holds the Prometheus collectors of the tracker. A nil *Metrics is
// valid and records nothing, which keeps tests free of registries.
package metrics

import (
	// External Packages
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	submissions      *prometheus.CounterVec
	resolutions      *prometheus.CounterVec
	pollTimeouts     prometheus.Counter
	sweepErrors      prometheus.Counter
	purged           prometheus.Counter
	feedReconnects   prometheus.Counter
	feedEvents       *prometheus.CounterVec
	subscribers      prometheus.Gauge
	broadcastDropped prometheus.Counter
	notifications    *prometheus.CounterVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "submissions_total",
			Help: "Transactions submitted to the ledger by result.",
		}, []string{"result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resolutions_total",
			Help: "Pending transactions resolved, by status and source.",
		}, []string{"status", "source"}),
		pollTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_timeouts_total",
			Help: "Active polls that ran out of attempts.",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_errors_total",
			Help: "Per-record failures during reconciliation sweeps.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "purged_total",
			Help: "Resolved records removed after retention.",
		}),
		feedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_reconnects_total",
			Help: "Upstream feed reconnect attempts.",
		}),
		feedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_events_total",
			Help: "Events emitted by the feed subscriber by kind.",
		}, []string{"kind"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "subscribers",
			Help: "Connected downstream subscribers.",
		}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "subscribers_dropped_total",
			Help: "Subscribers removed after a failed write.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notifications emitted by status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.submissions, m.resolutions, m.pollTimeouts, m.sweepErrors, m.purged,
			m.feedReconnects, m.feedEvents, m.subscribers, m.broadcastDropped, m.notifications,
		)
	}
	return m
}

func (m *Metrics) Submission(result string) {
	if m != nil {
		m.submissions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Resolved(status, source string) {
	if m != nil {
		m.resolutions.WithLabelValues(status, source).Inc()
	}
}

func (m *Metrics) PollTimeout() {
	if m != nil {
		m.pollTimeouts.Inc()
	}
}

func (m *Metrics) SweepError() {
	if m != nil {
		m.sweepErrors.Inc()
	}
}

func (m *Metrics) Purged(n int64) {
	if m != nil {
		m.purged.Add(float64(n))
	}
}

func (m *Metrics) FeedReconnect() {
	if m != nil {
		m.feedReconnects.Inc()
	}
}

func (m *Metrics) FeedEvent(kind string) {
	if m != nil {
		m.feedEvents.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Subscribers(n int) {
	if m != nil {
		m.subscribers.Set(float64(n))
	}
}

func (m *Metrics) SubscriberDropped() {
	if m != nil {
		m.broadcastDropped.Inc()
	}
}

func (m *Metrics) Notified(status string) {
	if m != nil {
		m.notifications.WithLabelValues(status).Inc()
	}
}
