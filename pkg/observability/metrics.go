package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for teamdesk. Every Record method
// is safe to call on a nil *Metrics.
type Metrics struct {
	// Backend collaborator
	BackendCallsTotal  *prometheus.CounterVec
	BackendCallSeconds *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec
	FeedEventsTotal    *prometheus.CounterVec
	FeedEventsDropped  *prometheus.CounterVec

	// Profile cache
	ProfileCacheSize        prometheus.Gauge
	ProfileCacheEventsTotal *prometheus.CounterVec
	ProfileFetchErrorsTotal prometheus.Counter

	// Mentions and optimistic sends
	MentionTokensTotal   *prometheus.CounterVec
	MentionReplaceTotal  *prometheus.CounterVec
	OptimisticSendsTotal *prometheus.CounterVec

	// Presence
	PresenceOnline          *prometheus.GaugeVec
	PresenceHeartbeatErrors prometheus.Counter
}

// DefaultMetrics creates metrics registered with the default registerer.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates a new set of metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BackendCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamdesk_backend_calls_total",
				Help: "Backend calls by operation, table and result code",
			},
			[]string{"op", "table", "code"},
		),
		BackendCallSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "teamdesk_backend_call_seconds",
				Help:    "Backend call latency",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"op", "table"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "teamdesk_backend_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		FeedEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamdesk_feed_events_total",
				Help: "Change feed events delivered to subscribers",
			},
			[]string{"table", "type"},
		),
		FeedEventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamdesk_feed_events_dropped_total",
				Help: "Change feed events dropped because a subscriber buffer was full",
			},
			[]string{"table"},
		),
		ProfileCacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "teamdesk_profile_cache_size",
				Help: "Profiles currently held by the profile cache",
			},
		),
		ProfileCacheEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamdesk_profile_cache_events_total",
				Help: "Change feed events applied to the profile cache",
			},
			[]string{"type"},
		),
		ProfileFetchErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "teamdesk_profile_fetch_errors_total",
				Help: "Failed full profile fetches",
			},
		),
		MentionTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamdesk_mention_tokens_total",
				Help: "Mention tokens seen at save time by outcome",
			},
			[]string{"outcome"},
		),
		MentionReplaceTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamdesk_mention_replace_total",
				Help: "Mention record replacements by entity and result",
			},
			[]string{"entity", "result"},
		),
		OptimisticSendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamdesk_optimistic_sends_total",
				Help: "Optimistic placeholder transitions by entity",
			},
			[]string{"entity", "transition"},
		),
		PresenceOnline: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "teamdesk_presence_online",
				Help: "Users seen online on a presence topic at the last listing",
			},
			[]string{"topic"},
		),
		PresenceHeartbeatErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "teamdesk_presence_heartbeat_errors_total",
				Help: "Failed presence heartbeats",
			},
		),
	}
}

// RecordBackendCall records the outcome and latency of a backend call.
// code is "ok" for successful calls.
func (m *Metrics) RecordBackendCall(op, table, code string, seconds float64) {
	if m == nil {
		return
	}
	m.BackendCallsTotal.WithLabelValues(op, table, code).Inc()
	m.BackendCallSeconds.WithLabelValues(op, table).Observe(seconds)
}

// SetBreakerState records the numeric state of a circuit breaker.
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(state)
}

// RecordFeedEvent records a change event delivered to a subscriber.
func (m *Metrics) RecordFeedEvent(table, eventType string) {
	if m == nil {
		return
	}
	m.FeedEventsTotal.WithLabelValues(table, eventType).Inc()
}

// RecordFeedDrop records a change event dropped for a slow subscriber.
func (m *Metrics) RecordFeedDrop(table string) {
	if m == nil {
		return
	}
	m.FeedEventsDropped.WithLabelValues(table).Inc()
}

// SetProfileCacheSize records the number of cached profiles.
func (m *Metrics) SetProfileCacheSize(n int) {
	if m == nil {
		return
	}
	m.ProfileCacheSize.Set(float64(n))
}

// RecordProfileEvent records a change event applied to the profile cache.
func (m *Metrics) RecordProfileEvent(eventType string) {
	if m == nil {
		return
	}
	m.ProfileCacheEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordProfileFetchError records a failed profile fetch.
func (m *Metrics) RecordProfileFetchError() {
	if m == nil {
		return
	}
	m.ProfileFetchErrorsTotal.Inc()
}

// RecordMentionToken records a save-time mention token as "matched" or "unmatched".
func (m *Metrics) RecordMentionToken(outcome string) {
	if m == nil {
		return
	}
	m.MentionTokensTotal.WithLabelValues(outcome).Inc()
}

// RecordMentionReplace records a mention record replacement result
// ("ok", "delete_failed", "insert_failed").
func (m *Metrics) RecordMentionReplace(entity, result string) {
	if m == nil {
		return
	}
	m.MentionReplaceTotal.WithLabelValues(entity, result).Inc()
}

// RecordOptimistic records a placeholder transition
// ("pending", "rolled_back", "reconciled").
func (m *Metrics) RecordOptimistic(entity, transition string) {
	if m == nil {
		return
	}
	m.OptimisticSendsTotal.WithLabelValues(entity, transition).Inc()
}

// SetPresenceOnline records how many users a topic listing returned.
func (m *Metrics) SetPresenceOnline(topic string, n int) {
	if m == nil {
		return
	}
	m.PresenceOnline.WithLabelValues(topic).Set(float64(n))
}

// RecordPresenceHeartbeatError records a failed presence refresh.
func (m *Metrics) RecordPresenceHeartbeatError() {
	if m == nil {
		return
	}
	m.PresenceHeartbeatErrors.Inc()
}
