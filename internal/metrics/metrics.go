// Package metrics counts validation outcomes and exports them in the
// Prometheus text format, for node_exporter's textfile collector.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andreiashu/coordclean"
)

// Recorder holds the counters of one run. It implements
// coordclean.Observer.
type Recorder struct {
	registry *prometheus.Registry

	RecordsTotal  *prometheus.CounterVec
	FlagsTotal    *prometheus.CounterVec
	InvalidTotal  *prometheus.CounterVec
	OutlierTotal  *prometheus.CounterVec
	VerdictsTotal *prometheus.CounterVec

	mu sync.Mutex
}

// New returns a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordclean_records_total",
			Help: "Records validated, by outcome",
		}, []string{"outcome"}),
		FlagsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordclean_flags_total",
			Help: "Records flagged, by test",
		}, []string{"test"}),
		InvalidTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordclean_invalid_records_total",
			Help: "Records that could not be validated, by reason",
		}, []string{"reason"}),
		OutlierTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordclean_outlier_reports_total",
			Help: "Per-species outlier reports, by method and status",
		}, []string{"method", "status"}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordclean_bias_verdicts_total",
			Help: "Partition bias verdicts, by test and status",
		}, []string{"test", "status", "flagged"}),
	}
	r.registry.MustRegister(r.RecordsTotal, r.FlagsTotal, r.InvalidTotal, r.OutlierTotal, r.VerdictsTotal)
	return r
}

// Registry exposes the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveRecord counts one validated record.
func (r *Recorder) ObserveRecord(flags coordclean.FlagVector, err error) {
	if err != nil {
		r.RecordsTotal.WithLabelValues("invalid").Inc()
		reason := "other"
		if errors.Is(err, coordclean.ErrInvalidRecord) {
			reason = "invalid_record"
		}
		r.InvalidTotal.WithLabelValues(reason).Inc()
		return
	}
	if flags.Passed() {
		r.RecordsTotal.WithLabelValues("passed").Inc()
	} else {
		r.RecordsTotal.WithLabelValues("flagged").Inc()
	}
	for _, name := range flags.Flagged() {
		r.FlagsTotal.WithLabelValues(string(name)).Inc()
	}
}

// ObserveOutliers counts outlier reports and the records they flagged.
func (r *Recorder) ObserveOutliers(reports []*coordclean.OutlierReport) {
	for _, rep := range reports {
		r.OutlierTotal.WithLabelValues(string(rep.Method), rep.Status.String()).Inc()
		if n := len(rep.Outliers); n > 0 {
			r.FlagsTotal.WithLabelValues(string(coordclean.TestOutlier)).Add(float64(n))
		}
	}
}

// ObserveVerdicts counts bias verdicts.
func (r *Recorder) ObserveVerdicts(verdicts []coordclean.Verdict) {
	for _, v := range verdicts {
		flagged := "false"
		if v.Flagged {
			flagged = "true"
		}
		r.VerdictsTotal.WithLabelValues(string(v.Test), v.Status.String(), flagged).Inc()
	}
}

// WriteTextfile writes the current counters to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return prometheus.WriteToTextfile(path, r.registry)
}
