package web

import "sync/atomic"

// BackpressureController caps the number of requests handled at once.
// Requests beyond the cap are rejected immediately with 503 rather than queued.
type BackpressureController struct {
	capacity int64
	inFlight atomic.Int64
	rejected atomic.Int64
}

// NewBackpressureController creates a controller admitting up to capacity
// concurrent requests. A capacity of zero or less admits everything.
func NewBackpressureController(capacity int) *BackpressureController {
	return &BackpressureController{capacity: int64(capacity)}
}

// TryAcquire reserves a slot. Every true result must be paired with Release.
func (bc *BackpressureController) TryAcquire() bool {
	n := bc.inFlight.Add(1)
	if bc.capacity > 0 && n > bc.capacity {
		bc.inFlight.Add(-1)
		bc.rejected.Add(1)
		return false
	}
	return true
}

// Release returns a slot taken by TryAcquire.
func (bc *BackpressureController) Release() {
	bc.inFlight.Add(-1)
}

// GetMetrics returns current backpressure metrics
func (bc *BackpressureController) GetMetrics() BackpressureMetrics {
	current := bc.inFlight.Load()
	m := BackpressureMetrics{
		Capacity:      bc.capacity,
		InFlight:      current,
		RejectedCount: bc.rejected.Load(),
	}
	if bc.capacity > 0 {
		m.Utilization = float64(current) / float64(bc.capacity) * 100
	}
	return m
}

// BackpressureMetrics provides backpressure statistics
type BackpressureMetrics struct {
	Capacity      int64   `json:"capacity"`
	InFlight      int64   `json:"in_flight"`
	RejectedCount int64   `json:"rejected"`
	Utilization   float64 `json:"utilization_percent"`
}
