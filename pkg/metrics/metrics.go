// Package metrics declares the Prometheus collectors srcscan records while
// acquiring sources, bootstrapping tools and scanning.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeCached  = "cached"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	AcquisitionsTotal   *prometheus.CounterVec
	AcquisitionDuration *prometheus.HistogramVec
	BootstrapsTotal     *prometheus.CounterVec
	ScansTotal          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AcquisitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srcscan_acquisitions_total",
				Help: "Number of source acquisition attempts by mechanism and outcome.",
			},
			[]string{"mechanism", "outcome"},
		),
		AcquisitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "srcscan_acquisition_duration_seconds",
				Help:    "Time taken by a source acquisition attempt.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"mechanism"},
		),
		BootstrapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srcscan_tool_bootstraps_total",
				Help: "Number of external tool bootstraps by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srcscan_scans_total",
				Help: "Number of scans by scanner and outcome.",
			},
			[]string{"scanner", "outcome"},
		),
	}

	reg.MustRegister(m.AcquisitionsTotal, m.AcquisitionDuration, m.BootstrapsTotal, m.ScansTotal)
	return m
}

// ObserveAcquisition records one acquisition attempt.
func (m *Metrics) ObserveAcquisition(mechanism string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AcquisitionsTotal.WithLabelValues(mechanism, outcome(err)).Inc()
	m.AcquisitionDuration.WithLabelValues(mechanism).Observe(elapsed.Seconds())
}

// ObserveBootstrap records one bootstrap of tool.
func (m *Metrics) ObserveBootstrap(tool string, err error) {
	if m == nil {
		return
	}
	m.BootstrapsTotal.WithLabelValues(tool, outcome(err)).Inc()
}

// ObserveScan records one scan. cached marks results re-read from disk.
func (m *Metrics) ObserveScan(scanner string, cached bool, err error) {
	if m == nil {
		return
	}
	o := outcome(err)
	if cached && err == nil {
		o = OutcomeCached
	}
	m.ScansTotal.WithLabelValues(scanner, o).Inc()
}

// WriteTextfile writes every metric gathered by g to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
