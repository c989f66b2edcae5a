package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the saga collectors. Create one per registry.
type Metrics struct {
	OrdersCreated        prometheus.Counter
	OrderPublishFailures prometheus.Counter
	OrdersRepublished    prometheus.Counter

	Processed      prometheus.Counter
	Skipped        prometheus.Counter
	Retried        prometheus.Counter
	Compensated    prometheus.Counter
	DeadLettered   prometheus.Counter
	ProcessingTime prometheus.Histogram

	StockRestores     prometheus.Counter
	StockRestoreSkips prometheus.Counter
	StockRestoreRetry prometheus.Counter

	DLQMovedTotal  *prometheus.CounterVec
	DLQFailedTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_created_total",
			Help: "Orders committed by the orchestrator",
		}),
		OrderPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_publish_failures_total",
			Help: "Committed orders whose OrderCreated event could not be published",
		}),
		OrdersRepublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_republished_total",
			Help: "OrderCreated events republished by the reconciliation sweep",
		}),
		Processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_orders_processed_total",
			Help: "OrderCreated events processed",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_orders_skipped_idempotent_total",
			Help: "OrderCreated events skipped because they were already processed",
		}),
		Retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_orders_retried_total",
			Help: "OrderCreated events sent to the retry queue",
		}),
		Compensated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_orders_compensated_total",
			Help: "StockRestore commands issued by the worker",
		}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_orders_dead_lettered_total",
			Help: "OrderCreated events rejected after exhausting retries",
		}),
		ProcessingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_orders_processing_seconds",
			Help:    "Latency of the order processing step",
			Buckets: prometheus.DefBuckets,
		}),
		StockRestores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_stock_restored_total",
			Help: "Compensations applied (stock restored, order canceled)",
		}),
		StockRestoreSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_stock_restore_skipped_total",
			Help: "Duplicate or stale StockRestore commands ignored",
		}),
		StockRestoreRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_stock_restore_retried_total",
			Help: "StockRestore commands parked in the retry queue after lock contention or a store error",
		}),
		DLQMovedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dlq_reprocess_moved_total",
			Help: "Dead-lettered messages republished",
		}, []string{"target"}),
		DLQFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dlq_reprocess_failed_total",
			Help: "Dead-lettered messages lost while republishing",
		}, []string{"target"}),
	}

	reg.MustRegister(
		m.OrdersCreated, m.OrderPublishFailures, m.OrdersRepublished,
		m.Processed, m.Skipped, m.Retried, m.Compensated, m.DeadLettered, m.ProcessingTime,
		m.StockRestores, m.StockRestoreSkips, m.StockRestoreRetry,
		m.DLQMovedTotal, m.DLQFailedTotal,
	)
	return m
}

func (m *Metrics) OrderCreated()       { m.OrdersCreated.Inc() }
func (m *Metrics) OrderPublishFailed() { m.OrderPublishFailures.Inc() }
func (m *Metrics) OrderRepublished()   { m.OrdersRepublished.Inc() }

func (m *Metrics) EventProcessed()    { m.Processed.Inc() }
func (m *Metrics) EventSkipped()      { m.Skipped.Inc() }
func (m *Metrics) EventRetried()      { m.Retried.Inc() }
func (m *Metrics) EventCompensated()  { m.Compensated.Inc() }
func (m *Metrics) EventDeadLettered() { m.DeadLettered.Inc() }

func (m *Metrics) ObserveProcessing(d time.Duration) { m.ProcessingTime.Observe(d.Seconds()) }

func (m *Metrics) StockRestored()       { m.StockRestores.Inc() }
func (m *Metrics) StockRestoreSkipped() { m.StockRestoreSkips.Inc() }
func (m *Metrics) StockRestoreRetried() { m.StockRestoreRetry.Inc() }

func (m *Metrics) DLQMoved(target string)  { m.DLQMovedTotal.WithLabelValues(target).Inc() }
func (m *Metrics) DLQFailed(target string) { m.DLQFailedTotal.WithLabelValues(target).Inc() }
