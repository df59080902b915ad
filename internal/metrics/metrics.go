// Package metrics exposes Prometheus instrumentation for archive runs.
//
// Every Recorder owns its registry so several can coexist in one process
// (tests, one-shot commands) without duplicate registration panics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Stage names used for failure and duration labels.
const (
	StageFetch   = "fetch"
	StageExtract = "extract"
	StagePublish = "publish"
	StageHarvest = "harvest"
)

// Recorder collects archive pipeline metrics. A nil *Recorder is a no-op.
type Recorder struct {
	registry *prometheus.Registry

	fetchedTotal   *prometheus.CounterVec
	skippedTotal   *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	bytesTotal     prometheus.Counter
	uploadsTotal   prometheus.Counter
	extractedTotal prometheus.Counter
	stageDuration  *prometheus.HistogramVec
}

// New creates a Recorder whose metric names are prefixed with namespace.
func New(namespace string) *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.fetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_archives_fetched_total", namespace),
			Help: "Archives downloaded, by kind",
		},
		[]string{"kind"},
	)
	r.skippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_archives_skipped_total", namespace),
			Help: "Archives skipped because they were already present, by kind",
		},
		[]string{"kind"},
	)
	r.failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_failures_total", namespace),
			Help: "Failures by pipeline stage",
		},
		[]string{"stage"},
	)
	r.bytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: fmt.Sprintf("%s_downloaded_bytes_total", namespace),
		Help: "Bytes written to disk by the fetcher",
	})
	r.uploadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: fmt.Sprintf("%s_uploads_total", namespace),
		Help: "Objects published to the object store",
	})
	r.extractedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: fmt.Sprintf("%s_extracted_files_total", namespace),
		Help: "Archive members written to disk",
	})
	r.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: fmt.Sprintf("%s_stage_duration_seconds", namespace),
			Help: "Duration of pipeline stages",
			// Archive downloads run from seconds to tens of minutes.
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		},
		[]string{"stage"},
	)

	r.registry.MustRegister(
		r.fetchedTotal,
		r.skippedTotal,
		r.failuresTotal,
		r.bytesTotal,
		r.uploadsTotal,
		r.extractedTotal,
		r.stageDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Registry returns the registry backing this recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Recorder) ArchiveFetched(kind string, bytes int64) {
	if r == nil {
		return
	}
	r.fetchedTotal.WithLabelValues(kind).Inc()
	r.bytesTotal.Add(float64(bytes))
}

func (r *Recorder) ArchiveSkipped(kind string) {
	if r == nil {
		return
	}
	r.skippedTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) Failure(stage string) {
	if r == nil {
		return
	}
	r.failuresTotal.WithLabelValues(stage).Inc()
}

func (r *Recorder) FilesExtracted(n int) {
	if r == nil {
		return
	}
	r.extractedTotal.Add(float64(n))
}

func (r *Recorder) Uploaded() {
	if r == nil {
		return
	}
	r.uploadsTotal.Inc()
}

// ObserveStage records how long a stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
