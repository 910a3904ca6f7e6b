package observability

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the Prometheus collectors for signature, delta and patch work.
type Metrics struct {
	registry *prometheus.Registry

	// Signature metrics
	SignaturesTotal   *prometheus.CounterVec
	SignatureDuration prometheus.Histogram
	SignatureBlocks   prometheus.Histogram
	BaseBytesScanned  prometheus.Counter

	// Delta metrics
	DeltasTotal        prometheus.Counter
	DeltaDuration      prometheus.Histogram
	DeltaCommandsTotal *prometheus.CounterVec
	DeltaBytesTotal    *prometheus.CounterVec

	// Apply metrics
	AppliesTotal      *prometheus.CounterVec
	ApplyDuration     prometheus.Histogram
	BytesWrittenTotal prometheus.Counter
}

// NewMetrics creates all collectors on a private registry so that several
// engines can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		SignaturesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltasync_signatures_total",
				Help: "Signatures produced, by source",
			},
			[]string{"source"},
		),

		SignatureDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deltasync_signature_duration_seconds",
				Help:    "Time spent building a signature",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),

		SignatureBlocks: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deltasync_signature_blocks",
				Help:    "Blocks per signature",
				Buckets: prometheus.ExponentialBuckets(1, 4, 12),
			},
		),

		BaseBytesScanned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasync_base_bytes_scanned_total",
				Help: "Base bytes read while building signatures",
			},
		),

		DeltasTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasync_deltas_total",
				Help: "Deltas produced",
			},
		),

		DeltaDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deltasync_delta_duration_seconds",
				Help:    "Time spent scanning a target",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),

		DeltaCommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltasync_delta_commands_total",
				Help: "Delta commands emitted, by op",
			},
			[]string{"op"},
		),

		DeltaBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltasync_delta_bytes_total",
				Help: "Target bytes covered by delta commands, by op",
			},
			[]string{"op"},
		),

		AppliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltasync_applies_total",
				Help: "Patch applications, by result",
			},
			[]string{"result"},
		),

		ApplyDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deltasync_apply_duration_seconds",
				Help:    "Time spent applying a patch",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),

		BytesWrittenTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasync_bytes_written_total",
				Help: "Bytes written by patch application",
			},
		),
	}

	return m
}

// RecordSignature updates metrics for a signature. cached reports whether it
// came from the signature cache instead of a scan.
func (m *Metrics) RecordSignature(blocks int, baseBytes int64, cached bool, durationSeconds float64) {
	source := "scan"
	if cached {
		source = "cache"
	}
	m.SignaturesTotal.WithLabelValues(source).Inc()
	m.SignatureBlocks.Observe(float64(blocks))
	if !cached {
		m.BaseBytesScanned.Add(float64(baseBytes))
		m.SignatureDuration.Observe(durationSeconds)
	}
}

// RecordDelta updates metrics for a finished delta.
func (m *Metrics) RecordDelta(copies, literals int, copiedBytes, literalBytes int64, durationSeconds float64) {
	m.DeltasTotal.Inc()
	m.DeltaDuration.Observe(durationSeconds)
	m.DeltaCommandsTotal.WithLabelValues("copy").Add(float64(copies))
	m.DeltaCommandsTotal.WithLabelValues("literal").Add(float64(literals))
	m.DeltaBytesTotal.WithLabelValues("copy").Add(float64(copiedBytes))
	m.DeltaBytesTotal.WithLabelValues("literal").Add(float64(literalBytes))
}

// RecordApply updates apply counters. err takes precedence over verified.
func (m *Metrics) RecordApply(written int64, verified bool, err error, durationSeconds float64) {
	result := "verified"
	switch {
	case err != nil:
		result = "error"
	case !verified:
		result = "mismatch"
	}
	m.AppliesTotal.WithLabelValues(result).Inc()
	m.ApplyDuration.Observe(durationSeconds)
	m.BytesWrittenTotal.Add(float64(written))
}

// WriteText writes every metric in the Prometheus text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
