package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	barsProcessed *prometheus.CounterVec
	oodTotal      *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	currentState  *prometheus.GaugeVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		barsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimepulse_bars_processed_total",
				Help: "Total number of feature bars processed",
			},
			[]string{"symbol", "timeframe"},
		),
		oodTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimepulse_ood_total",
				Help: "Total number of out-of-distribution bars",
			},
			[]string{"symbol", "timeframe"},
		),
		decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimepulse_decisions_total",
				Help: "Anti-chatter policy decisions by kind",
			},
			[]string{"decision"},
		),
		currentState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "regimepulse_current_state",
				Help: "Last confirmed regime state id per symbol and timeframe",
			},
			[]string{"symbol", "timeframe"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimepulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimepulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordBarProcessed counts one processed feature bar.
func (r *Recorder) RecordBarProcessed(symbol, timeframe string) {
	r.barsProcessed.WithLabelValues(symbol, timeframe).Inc()
}

// RecordOOD counts one out-of-distribution bar.
func (r *Recorder) RecordOOD(symbol, timeframe string) {
	r.oodTotal.WithLabelValues(symbol, timeframe).Inc()
}

// RecordDecision counts one anti-chatter policy decision.
func (r *Recorder) RecordDecision(decision string) {
	r.decisions.WithLabelValues(decision).Inc()
}

// RecordCurrentState records the confirmed state for a stream.
func (r *Recorder) RecordCurrentState(symbol, timeframe string, stateID int) {
	r.currentState.WithLabelValues(symbol, timeframe).Set(float64(stateID))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
