package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics exposes counters/histograms for the appointment scheduler.
type SchedulerMetrics struct {
	operations *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
	lockWait   *prometheus.HistogramVec
	opLatency  *prometheus.HistogramVec
	active     prometheus.Gauge
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetclinic",
			Subsystem: "scheduler",
			Name:      "operations_total",
			Help:      "Scheduler operations by name and outcome",
		}, []string{"operation", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetclinic",
			Subsystem: "scheduler",
			Name:      "conflicts_total",
			Help:      "Bookings and reschedules rejected for overlapping an active appointment",
		}, []string{"operation"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vetclinic",
			Subsystem: "scheduler",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for veterinarian locks",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"operation"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vetclinic",
			Subsystem: "scheduler",
			Name:      "operation_duration_seconds",
			Help:      "Latency of scheduler operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vetclinic",
			Subsystem: "scheduler",
			Name:      "active_appointments",
			Help:      "Active appointments held in the availability store",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operations, m.conflicts, m.lockWait, m.opLatency, m.active)
	return m
}

func (m *SchedulerMetrics) ObserveOperation(op, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.opLatency.WithLabelValues(op).Observe(took.Seconds())
}

func (m *SchedulerMetrics) ObserveConflict(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op).Inc()
}

func (m *SchedulerMetrics) ObserveLockWait(op string, waited time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(op).Observe(waited.Seconds())
}

func (m *SchedulerMetrics) AddActive(delta int) {
	if m == nil {
		return
	}
	m.active.Add(float64(delta))
}
