// Package metrics holds the prometheus collectors for jobs, background
// removal and rendering.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// JobsTotal counts terminal jobs.
	// Labels: service_id, api_status (COMPLETED|FAILED)
	JobsTotal *prometheus.CounterVec

	// JobDuration measures submission to terminal state in seconds.
	// Labels: service_id
	JobDuration *prometheus.HistogramVec

	ActiveJobs prometheus.Gauge

	// BackgroundRemovals counts processed layers.
	// Labels: status (success|error)
	BackgroundRemovals *prometheus.CounterVec

	FramesRendered prometheus.Counter
	ActiveSessions prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New returns the process-wide collectors, registering them on first use.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return metricsInstance
}

// NewWithRegistry registers a fresh set of collectors on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		JobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvas_studio_jobs_total",
				Help: "Total number of service jobs by terminal status",
			},
			[]string{"service_id", "api_status"},
		),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canvas_studio_job_duration_seconds",
				Help:    "Time from submission to terminal state",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"service_id"},
		),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "canvas_studio_active_jobs",
			Help: "Jobs that have not reached a terminal state",
		}),
		BackgroundRemovals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvas_studio_bg_removals_total",
				Help: "Layers processed by the background removal queue",
			},
			[]string{"status"},
		),
		FramesRendered: f.NewCounter(prometheus.CounterOpts{
			Name: "canvas_studio_frames_rendered_total",
			Help: "Total number of frames drawn",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "canvas_studio_active_sessions",
			Help: "Open editor sessions",
		}),
	}
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.ActiveJobs.Inc()
}

func (m *Metrics) JobFinished(serviceID, apiStatus string, seconds float64) {
	if m == nil {
		return
	}
	m.ActiveJobs.Dec()
	m.JobsTotal.WithLabelValues(serviceID, apiStatus).Inc()
	m.JobDuration.WithLabelValues(serviceID).Observe(seconds)
}

// JobRejected counts a job that failed before it was started.
func (m *Metrics) JobRejected(serviceID string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(serviceID, "FAILED").Inc()
}

func (m *Metrics) BackgroundRemoved(ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.BackgroundRemovals.WithLabelValues(status).Inc()
}

func (m *Metrics) FrameRendered() {
	if m == nil {
		return
	}
	m.FramesRendered.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
