// Package metrics exposes sync cycle health as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"parking-occupancy-service/internal/domain/occupancy"
)

const (
	CycleResultOK          = "ok"
	CycleResultUnreachable = "store_unreachable"
	CycleResultSkipped     = "skipped"
	CycleResultBusy        = "in_flight"
)

type Metrics struct {
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	detections      prometheus.Counter
	detectorErrors  prometheus.Counter
	transitions     *prometheus.CounterVec
	skips           *prometheus.CounterVec
	inconsistencies prometheus.Counter
	unchanged       prometheus.Counter
}

// New registers the collectors on reg; nil means the default registerer.
func New(reg prometheus.Registerer, cameraID string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	constLabels := prometheus.Labels{"camera": cameraID}

	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "parking_sync_cycles_total",
			Help:        "Sync cycles by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "parking_sync_cycle_duration_seconds",
			Help:        "End-to-end sync cycle latency from detection to last store write.",
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}),
		detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "parking_detections_total",
			Help:        "Detections received from the vision model.",
			ConstLabels: constLabels,
		}),
		detectorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "parking_detector_errors_total",
			Help:        "Detector failures recovered as empty detection sets.",
			ConstLabels: constLabels,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "parking_space_transitions_total",
			Help:        "Recorded space status transitions by new status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "parking_sync_skips_total",
			Help:        "Spaces skipped during sync by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "parking_sync_inconsistencies_total",
			Help:        "Status writes whose transition event could not be recorded.",
			ConstLabels: constLabels,
		}),
		unchanged: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "parking_sync_unchanged_total",
			Help:        "Spaces whose verdict matched the persisted status.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.detections,
		m.detectorErrors,
		m.transitions,
		m.skips,
		m.inconsistencies,
		m.unchanged,
	)
	return m
}

func (m *Metrics) ObserveDetections(n int) {
	if m == nil {
		return
	}
	m.detections.Add(float64(n))
}

func (m *Metrics) DetectorFailed() {
	if m == nil {
		return
	}
	m.detectorErrors.Inc()
}

func (m *Metrics) CycleRejected(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

// ObserveCycle records a completed cycle and its report.
func (m *Metrics) ObserveCycle(report occupancy.SyncReport, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
	m.unchanged.Add(float64(report.Unchanged))
	m.inconsistencies.Add(float64(len(report.Inconsistencies)))
	for _, tr := range report.Transitions {
		m.transitions.WithLabelValues(string(tr.NewStatus)).Inc()
	}
	for _, inc := range report.Inconsistencies {
		m.transitions.WithLabelValues(string(inc.Status)).Inc()
	}
	for _, skip := range report.Skipped {
		m.skips.WithLabelValues(skip.Reason).Inc()
	}
}
