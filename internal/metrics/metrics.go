// Package metrics exposes Prometheus collectors for ledger activity, event
// delivery and the HTTP surface.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"credits/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	LedgerEntries     *prometheus.CounterVec
	LedgerVolume      *prometheus.CounterVec
	AccountsOpened    prometheus.Counter
	PromotionsApplied *prometheus.CounterVec
	PromotionStatus   *prometheus.CounterVec
	EventFailures     *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_ledger_entries_total",
			Help: "Committed ledger entries by kind and reason.",
		}, []string{"kind", "reason"}),
		LedgerVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_ledger_volume_total",
			Help: "Sum of committed entry amounts by kind and currency.",
		}, []string{"kind", "currency"}),
		AccountsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credits_accounts_opened_total",
			Help: "Balances created.",
		}),
		PromotionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_promotions_applied_total",
			Help: "Promotion applications by promotion.",
		}, []string{"promotion_id"}),
		PromotionStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_promotion_status_changes_total",
			Help: "Promotion status transitions by target status.",
		}, []string{"to"}),
		EventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_event_handler_failures_total",
			Help: "Event handler failures by event type and handler.",
		}, []string{"event_type", "handler"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credits_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.LedgerEntries,
		m.LedgerVolume,
		m.AccountsOpened,
		m.PromotionsApplied,
		m.PromotionStatus,
		m.EventFailures,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Subscribe counts every event on the bus and every handler failure.
func (m *Metrics) Subscribe(bus *events.Bus) {
	bus.SubscribeAll("metrics", m.HandleEvent)
	bus.OnFailure(func(e events.Event, handler string, _ error) {
		m.EventFailures.WithLabelValues(string(e.Type), handler).Inc()
	})
}

func (m *Metrics) HandleEvent(_ context.Context, e events.Event) error {
	str := func(key string) string {
		v, _ := e.Payload[key].(string)
		return v
	}
	switch e.Type {
	case events.CreditsAdded, events.CreditsDeducted:
		kind := "CREDIT"
		if e.Type == events.CreditsDeducted {
			kind = "DEBIT"
		}
		m.LedgerEntries.WithLabelValues(kind, str("reason")).Inc()
		if amount, err := decimal.NewFromString(str("amount")); err == nil {
			m.LedgerVolume.WithLabelValues(kind, str("currency")).Add(amount.InexactFloat64())
		}
	case events.BalanceCreated:
		m.AccountsOpened.Inc()
	case events.PromotionApplied:
		m.PromotionsApplied.WithLabelValues(str("promotion_id")).Inc()
	case events.PromotionStatusChanged:
		m.PromotionStatus.WithLabelValues(str("to")).Inc()
	}
	return nil
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
