package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentIntentTotal counts payment intent lifecycle operations by outcome.
	PaymentIntentTotal *prometheus.CounterVec
	// SettlementTotal counts settlement attempts by outcome.
	SettlementTotal *prometheus.CounterVec
	// QuoteTotal counts pricing quotes served by subject kind.
	QuoteTotal *prometheus.CounterVec
	// ReconcileTasksTotal tracks reconciliation task outcomes.
	ReconcileTasksTotal *prometheus.CounterVec
	// ReconcileTaskLatency records reconciliation handling latency in milliseconds.
	ReconcileTaskLatency *prometheus.HistogramVec
	// ReconcileDLQ counts settlement tasks moved to the dead-letter queue.
	ReconcileDLQ prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent operations by outcome.",
		}, []string{"op", "result"})
		SettlementTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_total",
			Help:      "Count of settlement attempts by outcome.",
		}, []string{"result"})
		QuoteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_total",
			Help:      "Count of pricing quotes served by subject kind.",
		}, []string{"kind"})
		ReconcileTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_tasks_total",
			Help:      "Count of reconciliation task outcomes.",
		}, []string{"result"})
		ReconcileTaskLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_task_duration_ms",
			Help:      "Latency for reconciliation task handling in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		ReconcileDLQ = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_dlq_total",
			Help:      "Number of settlement tasks moved to the dead-letter queue.",
		})

		mustRegisterCollector(reg, PaymentIntentTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentIntentTotal = v
			}
		})
		mustRegisterCollector(reg, SettlementTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SettlementTotal = v
			}
		})
		mustRegisterCollector(reg, QuoteTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileTasksTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileTasksTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileTaskLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ReconcileTaskLatency = v
			}
		})
		mustRegisterCollector(reg, ReconcileDLQ, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				ReconcileDLQ = v
			}
		})
	})
}

// ObservePaymentIntent increments the intent counter when metrics are registered.
func ObservePaymentIntent(op, result string) {
	if PaymentIntentTotal != nil {
		PaymentIntentTotal.WithLabelValues(op, result).Inc()
	}
}

// ObserveSettlement increments the settlement counter when metrics are registered.
func ObserveSettlement(result string) {
	if SettlementTotal != nil {
		SettlementTotal.WithLabelValues(result).Inc()
	}
}

// ObserveQuote increments the quote counter when metrics are registered.
func ObserveQuote(kind string) {
	if QuoteTotal != nil {
		QuoteTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveReconcile records a reconciliation outcome and its latency in milliseconds.
func ObserveReconcile(result string, ms float64) {
	if ReconcileTasksTotal != nil {
		ReconcileTasksTotal.WithLabelValues(result).Inc()
	}
	if ReconcileTaskLatency != nil {
		ReconcileTaskLatency.WithLabelValues(result).Observe(ms)
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
