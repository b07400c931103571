// Package metrics exposes engine counters on the prometheus registry
// served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

var Module = fx.Provide(New)

type Metrics struct {
	saleSplits      prometheus.Counter
	entriesCleared  prometheus.Counter
	entriesCanceled prometheus.Counter
	entriesPaid     prometheus.Counter
	payoutsCreated  prometheus.Counter
	settlements     *prometheus.CounterVec
	discrepancies   prometheus.Counter
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		saleSplits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creatorpay",
			Subsystem: "ledger",
			Name:      "sale_splits_total",
			Help:      "Sale splits committed to the journal.",
		}),
		entriesCleared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creatorpay",
			Subsystem: "ledger",
			Name:      "entries_cleared_total",
			Help:      "Ledger entries transitioned to cleared.",
		}),
		entriesCanceled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creatorpay",
			Subsystem: "ledger",
			Name:      "entries_cancelled_total",
			Help:      "Ledger entries transitioned to cancelled.",
		}),
		entriesPaid: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creatorpay",
			Subsystem: "ledger",
			Name:      "entries_paid_total",
			Help:      "Ledger entries transitioned to paid.",
		}),
		payoutsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creatorpay",
			Subsystem: "payout",
			Name:      "payouts_created_total",
			Help:      "Payout batches created.",
		}),
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creatorpay",
			Subsystem: "payout",
			Name:      "settlements_total",
			Help:      "Provider settlement confirmations by outcome.",
		}, []string{"outcome"}),
		discrepancies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creatorpay",
			Subsystem: "reconciliation",
			Name:      "discrepancies_total",
			Help:      "Reconciliation runs that reported a discrepancy.",
		}),
	}
}

func (m *Metrics) RecordSaleSplit() {
	m.saleSplits.Inc()
}

func (m *Metrics) RecordClear(n int) {
	m.entriesCleared.Add(float64(n))
}

func (m *Metrics) RecordCancel(n int) {
	m.entriesCanceled.Add(float64(n))
}

func (m *Metrics) RecordMarkPaid(n int) {
	m.entriesPaid.Add(float64(n))
}

func (m *Metrics) RecordPayoutCreated() {
	m.payoutsCreated.Inc()
}

func (m *Metrics) RecordSettlement(outcome string) {
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordDiscrepancy() {
	m.discrepancies.Inc()
}
