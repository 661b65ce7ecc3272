package purchase

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	purchasesTotal *prometheus.CounterVec
	catalogTotal   *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		purchasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flashcards",
				Subsystem: "purchase",
				Name:      "attempts_total",
				Help:      "Total purchase attempts by tier and result",
			},
			[]string{"tier", "result"},
		),
		catalogTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flashcards",
				Subsystem: "purchase",
				Name:      "catalog_queries_total",
				Help:      "Total product catalog queries by result",
			},
			[]string{"result"},
		),
	}
	m.purchasesTotal = registerCounterVec(registerer, m.purchasesTotal)
	m.catalogTotal = registerCounterVec(registerer, m.catalogTotal)
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

func (m *Metrics) recordPurchase(tier, result string) {
	if m == nil {
		return
	}
	m.purchasesTotal.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) recordCatalog(result string) {
	if m == nil {
		return
	}
	m.catalogTotal.WithLabelValues(result).Inc()
}
