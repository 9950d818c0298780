package metrics

import "github.com/prometheus/client_golang/prometheus"

// BotMetrics exposes counters/histograms for the credit guard, timers, and outbound calls.
type BotMetrics struct {
	eventsTotal      *prometheus.CounterVec
	quotaDecisions   *prometheus.CounterVec
	creditInits      prometheus.Counter
	timerEvents      *prometheus.CounterVec
	quoteLatency     *prometheus.HistogramVec
	outboundMessages *prometheus.CounterVec
}

func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinguru",
			Subsystem: "bot",
			Name:      "events_total",
			Help:      "Inbound assistant events by kind and reply",
		}, []string{"kind", "reply"}),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinguru",
			Subsystem: "quota",
			Name:      "decisions_total",
			Help:      "Credit guard outcomes (allow, deny, invalid, error)",
		}, []string{"outcome"}),
		creditInits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coinguru",
			Subsystem: "quota",
			Name:      "credit_initializations_total",
			Help:      "Sessions granted their starting credits",
		}),
		timerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinguru",
			Subsystem: "timers",
			Name:      "events_total",
			Help:      "Label timer lifecycle events (armed, superseded, canceled, fired, stale, failed)",
		}, []string{"event"}),
		quoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coinguru",
			Subsystem: "quote",
			Name:      "request_duration_seconds",
			Help:      "Latency of spot price lookups",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		outboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinguru",
			Subsystem: "assistant",
			Name:      "outbound_messages_total",
			Help:      "Messages pushed to the assistant runtime",
		}, []string{"type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.quotaDecisions, m.creditInits, m.timerEvents, m.quoteLatency, m.outboundMessages)
	return m
}

func (m *BotMetrics) ObserveEvent(kind, reply string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind, reply).Inc()
}

func (m *BotMetrics) ObserveQuotaDecision(outcome string) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(outcome).Inc()
}

func (m *BotMetrics) ObserveCreditInit() {
	if m == nil {
		return
	}
	m.creditInits.Inc()
}

func (m *BotMetrics) ObserveTimer(event string) {
	if m == nil {
		return
	}
	m.timerEvents.WithLabelValues(event).Inc()
}

func (m *BotMetrics) ObserveQuoteLatency(status string, seconds float64) {
	if m == nil {
		return
	}
	m.quoteLatency.WithLabelValues(status).Observe(seconds)
}

func (m *BotMetrics) ObserveOutbound(msgType string, ok bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !ok {
		status = "failed"
	}
	m.outboundMessages.WithLabelValues(msgType, status).Inc()
}
