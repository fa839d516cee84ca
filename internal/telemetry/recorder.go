// Package telemetry tracks per-session move latency against the real-time
// target and feeds the placement controller's migration decisions.
package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTargetLatency is the real-time budget a move round trip must stay
// under for the session to feel live.
const DefaultTargetLatency = 50 * time.Millisecond

// DefaultWindowSize is the number of recent moves the rolling average spans.
const DefaultWindowSize = 32

// Metrics is a point-in-time summary of a session's latency health.
type Metrics struct {
	AverageMoveLatency time.Duration `json:"average_move_latency"`
	TargetLatency      time.Duration `json:"target_latency"`
	SamplesInWindow    int           `json:"samples_in_window"`
	MovesRecorded      int           `json:"moves_recorded"`
	LastRegionLatency  time.Duration `json:"last_region_latency"`
}

// Breaching reports whether the rolling average currently exceeds the target.
// An empty window never breaches.
func (m Metrics) Breaching() bool {
	return m.SamplesInWindow > 0 && m.AverageMoveLatency > m.TargetLatency
}

// Recorder keeps a fixed ring of recent move latencies for one session. It is
// safe for concurrent use; the session mutex usually serializes writers but
// metric reads come from other goroutines.
type Recorder struct {
	logger *zap.Logger
	target time.Duration

	mu            sync.RWMutex
	window        []time.Duration
	next          int
	filled        int
	total         int
	regionLatency time.Duration
}

// NewRecorder creates a recorder with the given target and window size.
// Non-positive arguments fall back to the defaults.
func NewRecorder(target time.Duration, windowSize int, logger *zap.Logger) *Recorder {
	if target <= 0 {
		target = DefaultTargetLatency
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Recorder{
		logger: logger,
		target: target,
		window: make([]time.Duration, windowSize),
	}
}

// RecordMove adds one move round-trip latency to the rolling window.
func (r *Recorder) RecordMove(latency time.Duration) {
	r.mu.Lock()
	r.window[r.next] = latency
	r.next = (r.next + 1) % len(r.window)
	if r.filled < len(r.window) {
		r.filled++
	}
	r.total++
	average := r.averageLocked()
	r.mu.Unlock()

	if latency > r.target && r.logger != nil {
		r.logger.Warn("move latency over target",
			zap.Duration("latency", latency),
			zap.Duration("target", r.target),
			zap.Duration("rolling_average", average),
		)
	}
}

// RecordRegionLatency notes the most recent measured latency between the
// session's participants and its current region.
func (r *Recorder) RecordRegionLatency(latency time.Duration) {
	r.mu.Lock()
	r.regionLatency = latency
	r.mu.Unlock()
}

// Metrics returns the current summary.
func (r *Recorder) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Metrics{
		AverageMoveLatency: r.averageLocked(),
		TargetLatency:      r.target,
		SamplesInWindow:    r.filled,
		MovesRecorded:      r.total,
		LastRegionLatency:  r.regionLatency,
	}
}

func (r *Recorder) averageLocked() time.Duration {
	if r.filled == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < r.filled; i++ {
		sum += r.window[i]
	}
	return sum / time.Duration(r.filled)
}
