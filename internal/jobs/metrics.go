package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はジョブキューの Prometheus メトリクスです。nil でも安全に呼び出せます。
type Metrics struct {
	enqueued        *prometheus.CounterVec
	enqueueFailures *prometheus.CounterVec
	claims          *prometheus.CounterVec
	finished        *prometheus.CounterVec
	reaped          prometheus.Counter
	activeStreams   prometheus.Gauge
}

// NewMetrics はメトリクスを作成し、reg が nil でなければ登録します。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfops_jobs_enqueued_total",
				Help: "Count of jobs accepted into the queue",
			},
			[]string{"kind"},
		),
		enqueueFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfops_jobs_enqueue_failures_total",
				Help: "Count of submissions rejected because the queue was unavailable",
			},
			[]string{"kind"},
		),
		claims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfops_jobs_claims_total",
				Help: "Count of job claims by workers, split by first delivery or redelivery",
			},
			[]string{"kind", "redelivery"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfops_jobs_finished_total",
				Help: "Count of jobs reaching a terminal state",
			},
			[]string{"kind", "state"},
		),
		reaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pdfops_jobs_lease_expired_total",
				Help: "Count of running jobs failed after their lease expired",
			},
		),
		activeStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pdfops_status_streams_active",
				Help: "Number of open job status streams",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.enqueued, m.enqueueFailures, m.claims, m.finished, m.reaped, m.activeStreams)
	}
	return m
}

func (m *Metrics) jobEnqueued(kind string) {
	if m != nil {
		m.enqueued.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) enqueueFailed(kind string) {
	if m != nil {
		m.enqueueFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) jobClaimed(kind string, attempt int) {
	if m == nil {
		return
	}
	redelivery := "false"
	if attempt > 1 {
		redelivery = "true"
	}
	m.claims.WithLabelValues(kind, redelivery).Inc()
}

func (m *Metrics) jobFinished(kind string, state Status) {
	if m != nil {
		m.finished.WithLabelValues(kind, string(state)).Inc()
	}
}

func (m *Metrics) leaseExpired() {
	if m != nil {
		m.reaped.Inc()
	}
}

func (m *Metrics) streamOpened() {
	if m != nil {
		m.activeStreams.Inc()
	}
}

func (m *Metrics) streamClosed() {
	if m != nil {
		m.activeStreams.Dec()
	}
}
