package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	seatLockOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seat_lock_operations_total",
			Help: "Total seat lock operations by outcome",
		},
		[]string{"operation", "status"},
	)

	activeSeatLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seat_locks_active",
			Help: "Current number of held seat locks",
		},
	)

	seatLockDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seat_lock_duration_seconds",
			Help:    "Duration of seat locks",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"reason"},
	)

	roomMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_room_members_total",
			Help: "Current number of realtime connections joined to event rooms",
		},
	)

	broadcastDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_room_dropped_messages_total",
			Help: "Messages that could not be delivered to a connection",
		},
		[]string{"kind"},
	)

	sweeperRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seat_lock_sweeps_total",
			Help: "Total expiry sweeps executed",
		},
	)
)

// Monitor records seat lock metrics. A nil *Monitor is valid and records
// nothing, which keeps tests and metric-less deployments simple.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// TrackLockOperation counts a lock/unlock/sweep/release outcome.
func (m *Monitor) TrackLockOperation(operation, status string) {
	if m == nil {
		return
	}
	seatLockOperations.WithLabelValues(operation, status).Inc()
}

func (m *Monitor) SetActiveLocks(n int) {
	if m == nil {
		return
	}
	activeSeatLocks.Set(float64(n))
}

// TrackSeatLock observes how long a lock was held before it was released.
func (m *Monitor) TrackSeatLock(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	seatLockDuration.WithLabelValues(reason).Observe(duration.Seconds())
}

func (m *Monitor) SetRoomMembers(n int) {
	if m == nil {
		return
	}
	roomMembers.Set(float64(n))
}

func (m *Monitor) TrackDroppedMessage(kind string) {
	if m == nil {
		return
	}
	broadcastDrops.WithLabelValues(kind).Inc()
}

func (m *Monitor) TrackSweep() {
	if m == nil {
		return
	}
	sweeperRuns.Inc()
}
