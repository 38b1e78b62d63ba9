// Package metrics wires the engine's progress and write-back queue depth
// into a Prometheus registry, following the pack's dumpling-style
// package-level collector-vec pattern (one set of collectors registered
// once, per-request state carried in labels rather than in a new
// collector).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upconv",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Total number of Process calls, labeled by outcome.",
		}, []string{"outcome"})

	tilesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upconv",
			Subsystem: "session",
			Name:      "tiles_processed_total",
			Help:      "Total number of tiles submitted to the inference backend.",
		}, []string{})

	tileInferenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upconv",
			Subsystem: "session",
			Name:      "tile_inference_failures_total",
			Help:      "Total number of tiles skipped due to a per-tile inference error.",
		}, []string{})

	writebackQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "upconv",
			Subsystem: "session",
			Name:      "writeback_queue_depth",
			Help:      "Current number of in-flight write-back tasks.",
		}, []string{})

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "upconv",
			Subsystem: "session",
			Name:      "request_duration_seconds",
			Help:      "Bucketed histogram of end-to-end Process call duration.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 16),
		}, []string{})
)

// Register adds every collector to registry. Call once at process start.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(requestsTotal)
	registry.MustRegister(tilesProcessed)
	registry.MustRegister(tileInferenceFailures)
	registry.MustRegister(writebackQueueDepth)
	registry.MustRegister(requestDuration)
}

// ObserveRequest records one Process call's outcome and wall-clock
// duration in seconds.
func ObserveRequest(outcome string, seconds float64) {
	requestsTotal.WithLabelValues(outcome).Inc()
	requestDuration.WithLabelValues().Observe(seconds)
}

// IncTilesProcessed records one tile successfully submitted to the
// backend.
func IncTilesProcessed() {
	tilesProcessed.WithLabelValues().Inc()
}

// IncTileInferenceFailures records one tile skipped due to a per-tile
// inference error.
func IncTileInferenceFailures() {
	tileInferenceFailures.WithLabelValues().Inc()
}

// SetWritebackQueueDepth publishes the current write-back FIFO occupancy.
func SetWritebackQueueDepth(depth int) {
	writebackQueueDepth.WithLabelValues().Set(float64(depth))
}
