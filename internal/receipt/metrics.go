package receipt

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments entitlement checks. A nil *Metrics records nothing.
type Metrics struct {
	checksTotal   *prometheus.CounterVec
	outcomesTotal *prometheus.CounterVec
	checkDuration prometheus.Histogram
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flashcards",
				Subsystem: "receipt",
				Name:      "checks_total",
				Help:      "Total entitlement checks by result",
			},
			[]string{"result"},
		),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flashcards",
				Subsystem: "receipt",
				Name:      "tier_outcomes_total",
				Help:      "Total per-tier receipt evaluations by status",
			},
			[]string{"tier", "status"},
		),
		checkDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "flashcards",
				Subsystem: "receipt",
				Name:      "check_duration_seconds",
				Help:      "Duration of entitlement checks including receipt validation",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	m.checksTotal = registerCollector(registerer, m.checksTotal)
	m.outcomesTotal = registerCollector(registerer, m.outcomesTotal)
	m.checkDuration = registerCollector(registerer, m.checkDuration)
	return m
}

func registerCollector[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) recordCheck(result string, seconds float64) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(result).Inc()
	m.checkDuration.Observe(seconds)
}

func (m *Metrics) recordOutcome(tier string, status Status) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(tier, status.String()).Inc()
}
