package analytics

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink counts purchases and revenue in Prometheus.
type MetricsSink struct {
	purchasesTotal *prometheus.CounterVec
	revenueTotal   *prometheus.CounterVec
	invalidTotal   *prometheus.CounterVec
}

func NewMetricsSink(registerer prometheus.Registerer) *MetricsSink {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &MetricsSink{
		purchasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flashcards",
				Subsystem: "purchase",
				Name:      "events_total",
				Help:      "Total purchase events by item and outcome",
			},
			[]string{"item_id", "success"},
		),
		revenueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flashcards",
				Subsystem: "purchase",
				Name:      "revenue_total",
				Help:      "Total revenue of successful purchases in major currency units",
			},
			[]string{"currency"},
		),
		invalidTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flashcards",
				Subsystem: "purchase",
				Name:      "events_invalid_total",
				Help:      "Total purchase events rejected by reason",
			},
			[]string{"reason"},
		),
	}

	m.purchasesTotal = registerCounterVec(registerer, m.purchasesTotal)
	m.revenueTotal = registerCounterVec(registerer, m.revenueTotal)
	m.invalidTotal = registerCounterVec(registerer, m.invalidTotal)
	return m
}

func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return counter
}

func defaultLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func (m *MetricsSink) LogPurchase(ctx context.Context, event PurchaseEvent) error {
	_ = ctx
	if m == nil {
		return nil
	}
	if err := event.Validate(); err != nil {
		m.invalidTotal.WithLabelValues("schema").Inc()
		return err
	}

	m.purchasesTotal.WithLabelValues(defaultLabel(event.ItemID), strconv.FormatBool(event.Success)).Inc()
	if !event.Success {
		return nil
	}
	amount, err := strconv.ParseFloat(event.Price, 64)
	if err != nil || amount < 0 {
		m.invalidTotal.WithLabelValues("price").Inc()
		return nil
	}
	m.revenueTotal.WithLabelValues(defaultLabel(event.Currency)).Add(amount)
	return nil
}
