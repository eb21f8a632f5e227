package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	waitingDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_waiting_depth",
			Help: "Current number of waiting sessions per queue",
		},
		[]string{"queue_id"},
	)

	servingOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_serving_occupancy",
			Help: "Current number of serving sessions per queue",
		},
		[]string{"queue_id"},
	)

	admissionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_admission_operations_total",
			Help: "Total admission engine operations by outcome",
		},
		[]string{"operation", "queue_id", "outcome"},
	)

	releaseBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_release_batch_size",
			Help:    "Sessions released per scheduler release",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"queue_id"},
	)

	waitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_wait_duration_seconds",
			Help:    "Time sessions spent waiting before release",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"queue_id"},
	)

	capacityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_capacity_rejections_total",
			Help: "Serving transitions rejected at the capacity recheck",
		},
		[]string{"queue_id"},
	)

	lockTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_lock_timeouts_total",
			Help: "Operations that timed out waiting for a queue lock",
		},
		[]string{"queue_id"},
	)
)

// Monitor is the engine's metrics sink.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// TrackOperation counts one engine operation and its outcome.
func (m *Monitor) TrackOperation(operation, queueID, outcome string) {
	admissionOperations.WithLabelValues(operation, queueID, outcome).Inc()
}

// SetQueueDepths publishes the current waiting/serving gauges for a queue.
func (m *Monitor) SetQueueDepths(queueID string, waiting, serving int) {
	waitingDepth.WithLabelValues(queueID).Set(float64(waiting))
	servingOccupancy.WithLabelValues(queueID).Set(float64(serving))
}

// TrackReleaseBatch observes the size of one scheduler release.
func (m *Monitor) TrackReleaseBatch(queueID string, released int) {
	releaseBatchSize.WithLabelValues(queueID).Observe(float64(released))
}

// TrackWaitDuration observes how long a session waited before release.
func (m *Monitor) TrackWaitDuration(queueID string, d time.Duration) {
	waitDuration.WithLabelValues(queueID).Observe(d.Seconds())
}

// TrackCapacityRejection counts a CapacityExceeded at the serving gate.
// A spike means release ticks are racing the serving transitions.
func (m *Monitor) TrackCapacityRejection(queueID string) {
	capacityRejections.WithLabelValues(queueID).Inc()
}

// TrackLockTimeout counts a QueueBusy lock acquisition failure.
func (m *Monitor) TrackLockTimeout(queueID string) {
	lockTimeouts.WithLabelValues(queueID).Inc()
}

// DropQueue removes a deleted queue's gauge series.
func (m *Monitor) DropQueue(queueID string) {
	waitingDepth.DeleteLabelValues(queueID)
	servingOccupancy.DeleteLabelValues(queueID)
}
