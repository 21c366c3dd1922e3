package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	idempotencyCounter      *prometheus.CounterVec
	webhookCounter          *prometheus.CounterVec
	splitSettlementCounter  *prometheus.CounterVec
	disbursementFailures    *prometheus.CounterVec
	balanceMismatchCounter  prometheus.Counter
	withdrawalDecisions     *prometheus.CounterVec
	holdsReleasedCounter    prometheus.Counter
	manualInterventionGauge *prometheus.GaugeVec
	workerRunCounter        *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Gateway payment notifications by outcome",
		}, []string{"gateway", "outcome"})

		splitSettlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_split_settlements_total",
			Help: "Split settlement attempts per transaction by result",
		}, []string{"result"})

		disbursementFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "disbursement_failures_exhausted_total",
			Help: "Disbursements that exhausted retries and need manual intervention",
		}, []string{"kind"})

		balanceMismatchCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_balance_mismatch_total",
			Help: "Wallets whose materialized balance diverged from the ledger replay",
		})

		withdrawalDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_transitions_total",
			Help: "Withdrawal request state transitions",
		}, []string{"action"})

		holdsReleasedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_holds_released_total",
			Help: "Frozen split credits promoted to withdrawable",
		})

		manualInterventionGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "manual_intervention_queue_size",
			Help: "Failed splits and withdrawals waiting for an operator",
		}, []string{"kind"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			webhookCounter,
			splitSettlementCounter,
			disbursementFailures,
			balanceMismatchCounter,
			withdrawalDecisions,
			holdsReleasedCounter,
			manualInterventionGauge,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWebhook(gateway, outcome string) {
	if webhookCounter == nil {
		return
	}
	webhookCounter.WithLabelValues(gateway, outcome).Inc()
}

func IncrementSplitSettlement(result string) {
	if splitSettlementCounter == nil {
		return
	}
	splitSettlementCounter.WithLabelValues(result).Inc()
}

// IncrementDisbursementExhausted is the alerting signal for money stuck after all retries.
func IncrementDisbursementExhausted(kind string) {
	if disbursementFailures == nil {
		return
	}
	disbursementFailures.WithLabelValues(kind).Inc()
}

func IncrementBalanceMismatch() {
	if balanceMismatchCounter == nil {
		return
	}
	balanceMismatchCounter.Inc()
}

func IncrementWithdrawalTransition(action string) {
	if withdrawalDecisions == nil {
		return
	}
	withdrawalDecisions.WithLabelValues(action).Inc()
}

func AddHoldsReleased(n int) {
	if holdsReleasedCounter == nil || n <= 0 {
		return
	}
	holdsReleasedCounter.Add(float64(n))
}

func SetManualInterventionQueueSize(kind string, size int64) {
	if manualInterventionGauge == nil {
		return
	}
	manualInterventionGauge.WithLabelValues(kind).Set(float64(size))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
