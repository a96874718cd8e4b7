package job

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors of a Manager. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	submitted prometheus.Counter
	finished  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	running   prometheus.Gauge
	queued    prometheus.Gauge
	swept     prometheus.Counter
	duration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heatsim_jobs_submitted_total",
			Help: "Simulations accepted into the queue.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heatsim_jobs_finished_total",
			Help: "Simulations that reached a terminal state, by state and error kind.",
		}, []string{"state", "kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heatsim_jobs_rejected_total",
			Help: "Submissions refused before a session was created.",
		}, []string{"reason"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heatsim_jobs_running",
			Help: "Simulations currently executing.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heatsim_jobs_queued",
			Help: "Simulations waiting for a worker.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heatsim_sessions_swept_total",
			Help: "Sessions removed by the retention sweep.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "heatsim_job_duration_seconds",
			Help:    "Wall time of one simulation including archiving.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
	}
	reg.MustRegister(m.submitted, m.finished, m.rejected, m.running, m.queued, m.swept, m.duration)
	return m
}

func (m *Metrics) submit(queueLen int) {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.queued.Set(float64(queueLen))
}

func (m *Metrics) reject(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) start(queueLen int) {
	if m == nil {
		return
	}
	m.running.Inc()
	m.queued.Set(float64(queueLen))
}

func (m *Metrics) finish(state State, kind string, seconds float64) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.finished.WithLabelValues(string(state), kind).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) sweep(n int) {
	if m == nil {
		return
	}
	m.swept.Add(float64(n))
}
