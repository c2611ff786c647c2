package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records ledger write outcomes. A nil *LedgerMetrics is a no-op.
type LedgerMetrics struct {
	appendDuration *prometheus.HistogramVec
	appended       *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	retries        *prometheus.CounterVec
	lockWait       prometheus.Histogram
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	appendDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_append_duration_seconds",
		Help:    "Duration of transaction log appends in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	appended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transactions_appended_total",
		Help: "Transactions committed to the log by kind.",
	}, []string{"kind"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commands_rejected_total",
		Help: "Ledger commands rejected by operation and error code.",
	}, []string{"operation", "code"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_retries_total",
		Help: "Retried ledger attempts by reason.",
	}, []string{"reason"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_lock_wait_seconds",
		Help:    "Time spent waiting for a per-asset, per-base exclusive section.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(appendDuration, appended, rejected, retries, lockWait)
	return &LedgerMetrics{
		appendDuration: appendDuration,
		appended:       appended,
		rejected:       rejected,
		retries:        retries,
		lockWait:       lockWait,
	}
}

// ObserveAppend records how long an append attempt took and whether it committed.
func (m *LedgerMetrics) ObserveAppend(outcome string, duration time.Duration) {
	if m == nil || m.appendDuration == nil {
		return
	}
	m.appendDuration.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

// IncAppended counts one committed transaction of the given kind.
func (m *LedgerMetrics) IncAppended(kind string) {
	if m == nil || m.appended == nil {
		return
	}
	m.appended.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncRejected counts a rejected command.
func (m *LedgerMetrics) IncRejected(operation, code string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(operation), normalizeLabel(code)).Inc()
}

// IncRetry counts a retried attempt.
func (m *LedgerMetrics) IncRetry(reason string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveLockWait records time spent acquiring an exclusive section.
func (m *LedgerMetrics) ObserveLockWait(duration time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
