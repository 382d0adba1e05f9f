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
	workerRunCounter        *prometheus.CounterVec
	ledgerFetchFailures     prometheus.Counter
	skippedObservations     *prometheus.CounterVec
	invariantViolations     *prometheus.CounterVec
	reconcilePassCounter    *prometheus.CounterVec
	depositsCreditedCounter prometheus.Counter
	creditedMicrosCounter   prometheus.Counter
	priceFallbackCounter    *prometheus.CounterVec
	integrityFindingsGauge  *prometheus.GaugeVec
	captchaSolveCounter     *prometheus.CounterVec
	httpInFlightGauge       prometheus.Gauge
	httpPanicCounter        *prometheus.CounterVec
	rateLimitedCounter      *prometheus.CounterVec
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

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		ledgerFetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_fetch_failures_total",
			Help: "Ledger reads that failed or timed out",
		})

		skippedObservations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_skipped_observations_total",
			Help: "Ledger observations ignored by reconciliation",
		}, []string{"reason"})

		invariantViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_invariant_violations_total",
			Help: "Deposit engine invariant violations",
		}, []string{"kind"})

		reconcilePassCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_passes_total",
			Help: "Reconciliation passes by outcome",
		}, []string{"outcome"})

		depositsCreditedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deposits_credited_total",
			Help: "Deposits converted into spendable balance",
		})

		creditedMicrosCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deposits_credited_micros_total",
			Help: "Account currency micros credited to balances",
		})

		priceFallbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "price_oracle_fallbacks_total",
			Help: "Spot rate lookups answered with the fallback constant",
		}, []string{"reason"})

		integrityFindingsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "integrity_findings",
			Help: "Findings from the last integrity check",
		}, []string{"check"})

		captchaSolveCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captcha_solves_total",
			Help: "CAPTCHA solves by final status",
		}, []string{"status"})

		httpInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served",
		})

		httpPanicCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_panics_total",
			Help: "Handler panics recovered by route",
		}, []string{"path"})

		rateLimitedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		}, []string{"scope"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			workerRunCounter,
			ledgerFetchFailures,
			skippedObservations,
			invariantViolations,
			reconcilePassCounter,
			depositsCreditedCounter,
			creditedMicrosCounter,
			priceFallbackCounter,
			integrityFindingsGauge,
			captchaSolveCounter,
			httpInFlightGauge,
			httpPanicCounter,
			rateLimitedCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func TrackInFlight() func() {
	if httpInFlightGauge == nil {
		return func() {}
	}
	httpInFlightGauge.Inc()
	return httpInFlightGauge.Dec
}

func IncrementHTTPPanic(path string) {
	if httpPanicCounter == nil {
		return
	}
	httpPanicCounter.WithLabelValues(path).Inc()
}

func IncrementRateLimited(scope string) {
	if rateLimitedCounter == nil {
		return
	}
	rateLimitedCounter.WithLabelValues(scope).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementLedgerFetchFailure() {
	if ledgerFetchFailures == nil {
		return
	}
	ledgerFetchFailures.Inc()
}

func IncrementSkippedObservation(reason string) {
	if skippedObservations == nil {
		return
	}
	skippedObservations.WithLabelValues(reason).Inc()
}

func IncrementInvariantViolation(kind string) {
	if invariantViolations == nil {
		return
	}
	invariantViolations.WithLabelValues(kind).Inc()
}

func IncrementReconcilePass(outcome string) {
	if reconcilePassCounter == nil {
		return
	}
	reconcilePassCounter.WithLabelValues(outcome).Inc()
}

func ObserveDepositCredited(micros int64) {
	if depositsCreditedCounter == nil {
		return
	}
	depositsCreditedCounter.Inc()
	creditedMicrosCounter.Add(float64(micros))
}

func IncrementPriceFallback(reason string) {
	if priceFallbackCounter == nil {
		return
	}
	priceFallbackCounter.WithLabelValues(reason).Inc()
}

func SetIntegrityFindings(check string, n int) {
	if integrityFindingsGauge == nil {
		return
	}
	integrityFindingsGauge.WithLabelValues(check).Set(float64(n))
}

func IncrementCaptchaSolve(status string) {
	if captchaSolveCounter == nil {
		return
	}
	captchaSolveCounter.WithLabelValues(status).Inc()
}
