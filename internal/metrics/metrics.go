// Package metrics exposes Prometheus counters for the claim pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusClaims        *prometheus.CounterVec
	prometheusLedgerCalls   *prometheus.CounterVec
	prometheusRecoveries    prometheus.Counter
	prometheusDecodeErrors  prometheus.Counter
	prometheusBroadcasts    *prometheus.CounterVec
	prometheusUTXONotFound  prometheus.Counter
	prometheusFeeRate       prometheus.Gauge
	prometheusMetricsInitOk sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once.
func Init() {
	prometheusMetricsInitOk.Do(initPrometheusMetrics)
}

func initPrometheusMetrics() {
	prometheusClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klingdrop",
			Name:      "claims_total",
			Help:      "Number of claim attempts by outcome",
		},
		[]string{"outcome"},
	)
	prometheusLedgerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klingdrop",
			Name:      "ledger_calls_total",
			Help:      "Number of remote ledger calls by method and result class",
		},
		[]string{
			"method", // contract method name
			"class",  // completed, deserialization, remote, recovered
		},
	)
	prometheusRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "klingdrop",
			Name:      "ledger_timeout_recoveries_total",
			Help:      "Number of ambiguous call timeouts resolved by status lookup",
		},
	)
	prometheusDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "klingdrop",
			Name:      "ledger_decode_errors_total",
			Help:      "Number of success payloads that could not be decoded",
		},
	)
	prometheusBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klingdrop",
			Name:      "broadcasts_total",
			Help:      "Number of raw transaction broadcasts by result",
		},
		[]string{"result"},
	)
	prometheusUTXONotFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "klingdrop",
			Name:      "utxo_not_found_total",
			Help:      "Number of selections against an unfunded address",
		},
	)
	prometheusFeeRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "klingdrop",
			Name:      "fee_rate_sat_per_vbyte",
			Help:      "Last observed fee rate for the claim confirmation target",
		},
	)
}

// ClaimOutcome counts a finished claim attempt.
func ClaimOutcome(outcome string) {
	Init()
	prometheusClaims.WithLabelValues(outcome).Inc()
}

// LedgerCall counts a classified ledger call.
func LedgerCall(method, class string) {
	Init()
	prometheusLedgerCalls.WithLabelValues(method, class).Inc()
}

// Recovery counts a timeout recovery.
func Recovery() {
	Init()
	prometheusRecoveries.Inc()
}

// DecodeError counts an undecodable success payload.
func DecodeError() {
	Init()
	prometheusDecodeErrors.Inc()
}

// BroadcastOK counts an accepted broadcast.
func BroadcastOK() {
	Init()
	prometheusBroadcasts.WithLabelValues("ok").Inc()
}

// BroadcastFailed counts a rejected or failed broadcast.
func BroadcastFailed() {
	Init()
	prometheusBroadcasts.WithLabelValues("failed").Inc()
}

// UTXONotFound counts a selection against an address with no outputs.
func UTXONotFound() {
	Init()
	prometheusUTXONotFound.Inc()
}

// FeeRate records the last observed fee rate.
func FeeRate(rate float64) {
	Init()
	prometheusFeeRate.Set(rate)
}
