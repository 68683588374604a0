package ocrsession

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ocr_in_flight_requests",
		Help: "Number of currently pending and processed requests.",
	})
	counter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_api_requests_total",
			Help: "A counter for requests to the wrapped handler.",
		},
		[]string{"code", "method"},
	)

	// duration is partitioned by the HTTP method and handler. It uses custom
	// buckets based on the expected request duration.
	duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocr_request_duration_seconds",
			Help:    "A histogram of latencies for requests.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)

	attemptCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_attempts_total",
			Help: "Recognition attempts executed, by strategy label.",
		},
		[]string{"strategy"},
	)

	attemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocr_attempt_duration_seconds",
			Help:    "A histogram of single recognition attempt latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	earlyStopCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ocr_early_stops_total",
		Help: "Attempt sequences halted early by a good-enough result.",
	})
)

func init() {
	prometheus.MustRegister(attemptCounter, attemptDuration, earlyStopCounter)
}

// InstrumentHTTPHandler wraps a session API handler to provide
// prometheus metrics.
func InstrumentHTTPHandler(handler http.Handler) http.Handler {
	prometheus.MustRegister(inFlightGauge, counter, duration)

	ocrChain := promhttp.InstrumentHandlerInFlight(inFlightGauge,
		promhttp.InstrumentHandlerDuration(duration.MustCurryWith(prometheus.Labels{"handler": "ocr"}),
			promhttp.InstrumentHandlerCounter(counter, handler),
		),
	)
	return ocrChain
}
