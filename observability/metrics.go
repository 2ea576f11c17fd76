package observability

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transaction outcomes recorded by EscrowMetrics.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// EscrowMetrics captures ledger transaction throughput, latency and the
// lifecycle events those transactions produce.
type EscrowMetrics struct {
	transactions *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	events       *prometheus.CounterVec
	writes       prometheus.Histogram
}

// NewEscrowMetrics builds the collectors and registers them with reg. A nil
// registerer leaves the collectors unregistered, which is convenient in tests.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	m := &EscrowMetrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Total ledger transactions segmented by type and outcome.",
		}, []string{"type", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "transaction_duration_seconds",
			Help:      "Latency distribution for applying ledger transactions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Count of committed escrow lifecycle events segmented by type.",
		}, []string{"type"}),
		writes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "escrow",
			Subsystem: "ledger",
			Name:      "records_written",
			Help:      "Number of records written per committed transaction.",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transactions, m.latency, m.events, m.writes)
	}
	return m
}

// ObserveTransaction records the outcome and latency of one transaction.
func (m *EscrowMetrics) ObserveTransaction(txType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	txType = normalizeLabel(txType)
	m.transactions.WithLabelValues(txType, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(txType).Observe(duration.Seconds())
}

// RecordEvent increments the committed event counter.
func (m *EscrowMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// RecordWrites observes how many records a committed transaction touched.
func (m *EscrowMetrics) RecordWrites(n int) {
	if m == nil {
		return
	}
	m.writes.Observe(float64(n))
}

// Transactions exposes the transaction counter for assertions in tests.
func (m *EscrowMetrics) Transactions() *prometheus.CounterVec { return m.transactions }

// Events exposes the event counter for assertions in tests.
func (m *EscrowMetrics) Events() *prometheus.CounterVec { return m.events }

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
