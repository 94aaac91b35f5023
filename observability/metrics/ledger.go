package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks engine operations, committed events and observer health.
type LedgerMetrics struct {
	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	eventsCommitted *prometheus.CounterVec
	partialMints    prometheus.Counter
	journalFailures prometheus.Counter
	observerErrors  *prometheus.CounterVec
	webhookFailures *prometheus.CounterVec
	pointsSupply    prometheus.Gauge
	feedHead        prometheus.Gauge
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics, registering them with the
// default Prometheus registry on first use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "drivechain_ledger_operations_total",
				Help: "Count of ledger engine operations by name and outcome kind.",
			}, []string{"operation", "outcome"}),
			operationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "drivechain_ledger_operation_seconds",
				Help:    "Latency of ledger engine operations including journal append.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			}, []string{"operation"}),
			eventsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "drivechain_events_committed_total",
				Help: "Count of committed change events by type.",
			}, []string{"type"}),
			partialMints: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "drivechain_partial_mints_total",
				Help: "Records minted without points being credited.",
			}),
			journalFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "drivechain_journal_failures_total",
				Help: "Committed batches that could not be appended to the change feed.",
			}),
			observerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "drivechain_observer_errors_total",
				Help: "Observer failures (errors and recovered panics) by observer.",
			}, []string{"observer"}),
			webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "drivechain_webhook_failures_total",
				Help: "Number of failed webhook delivery attempts by destination.",
			}, []string{"destination"}),
			pointsSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "drivechain_points_supply",
				Help: "Total points credited across all accounts (approximate, float64).",
			}),
			feedHead: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "drivechain_feed_head",
				Help: "Sequence number of the latest change feed entry.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.operationTime,
			ledgerRegistry.eventsCommitted,
			ledgerRegistry.partialMints,
			ledgerRegistry.journalFailures,
			ledgerRegistry.observerErrors,
			ledgerRegistry.webhookFailures,
			ledgerRegistry.pointsSupply,
			ledgerRegistry.feedHead,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records one engine call. outcome is the error kind, or "ok".
func (m *LedgerMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationTime.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *LedgerMetrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.eventsCommitted.WithLabelValues(eventType).Inc()
}

func (m *LedgerMetrics) IncPartialMint() {
	if m == nil {
		return
	}
	m.partialMints.Inc()
}

func (m *LedgerMetrics) IncJournalFailure() {
	if m == nil {
		return
	}
	m.journalFailures.Inc()
}

func (m *LedgerMetrics) ObserveObserverError(observer string) {
	if m == nil {
		return
	}
	if observer == "" {
		observer = "anonymous"
	}
	m.observerErrors.WithLabelValues(observer).Inc()
}

func (m *LedgerMetrics) ObserveWebhookFailure(destination string) {
	if m == nil {
		return
	}
	if destination == "" {
		destination = "unknown"
	}
	m.webhookFailures.WithLabelValues(destination).Inc()
}

func (m *LedgerMetrics) SetSupply(supply float64) {
	if m == nil {
		return
	}
	m.pointsSupply.Set(supply)
}

func (m *LedgerMetrics) SetFeedHead(seq uint64) {
	if m == nil {
		return
	}
	m.feedHead.Set(float64(seq))
}
