package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestBotMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBotMetrics(reg)
	m.ObserveEvent("text", "pass_through")
	m.ObserveQuotaDecision("allow")
	m.ObserveQuotaDecision("deny")
	m.ObserveQuotaDecision("deny")
	m.ObserveCreditInit()
	m.ObserveTimer("armed")
	m.ObserveQuoteLatency("ok", 0.2)
	m.ObserveOutbound("text", true)

	if got := testutil.ToFloat64(m.quotaDecisions.WithLabelValues("deny")); got != 2 {
		t.Fatalf("expected 2 deny decisions, got %v", got)
	}
	if got := testutil.ToFloat64(m.creditInits); got != 1 {
		t.Fatalf("expected 1 credit init, got %v", got)
	}
}

func TestBotMetricsGatherTimerEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBotMetrics(reg)
	m.ObserveTimer("fired")
	m.ObserveTimer("fired")
	m.ObserveTimer("stale")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "coinguru_timers_events_total" {
			family = f
		}
	}
	if family == nil {
		t.Fatalf("timer family not registered")
	}
	counts := map[string]float64{}
	for _, metric := range family.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "event" {
				counts[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	if counts["fired"] != 2 || counts["stale"] != 1 {
		t.Fatalf("unexpected timer counts %v", counts)
	}
}

func TestBotMetricsNilSafe(t *testing.T) {
	var m *BotMetrics
	m.ObserveEvent("text", "suppress")
	m.ObserveQuotaDecision("allow")
	m.ObserveCreditInit()
	m.ObserveTimer("armed")
	m.ObserveQuoteLatency("error", 0.1)
	m.ObserveOutbound("image", false)
}
