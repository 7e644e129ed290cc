package game

import (
	"sync/atomic"
	"time"
)

// Runtime holds the measurements and counters shared by every game of one
// connection. The event loop writes it; the status endpoint reads it from
// other goroutines.
type Runtime struct {
	driftMs   atomic.Int64
	latencyMs atomic.Int64
	inFlight  atomic.Int64

	clock func() time.Time
}

// NewRuntime returns a Runtime with no drift measured yet.
func NewRuntime() *Runtime {
	return &Runtime{clock: time.Now}
}

// Now is local time corrected by the measured drift from the server clock.
func (r *Runtime) Now() time.Time {
	return r.clock().Add(-r.Drift())
}

// RecordPong updates latency and drift from a ping sent at clientMs and
// stamped serverMs by the server, received at now.
func (r *Runtime) RecordPong(clientMs, serverMs int64, now time.Time) {
	nowMs := now.UnixMilli()
	latency := nowMs - clientMs
	r.latencyMs.Store(latency)
	r.driftMs.Store((nowMs - latency/2) - serverMs)
}

// Drift is how far the local clock runs ahead of the server.
func (r *Runtime) Drift() time.Duration {
	return time.Duration(r.driftMs.Load()) * time.Millisecond
}

// Latency is the last measured ping round trip.
func (r *Runtime) Latency() time.Duration {
	return time.Duration(r.latencyMs.Load()) * time.Millisecond
}

// MovesInFlight counts genmove requests that have not been answered yet.
func (r *Runtime) MovesInFlight() int64 {
	return r.inFlight.Load()
}

func (r *Runtime) moveStarted() {
	r.inFlight.Add(1)
}

func (r *Runtime) moveFinished() {
	r.inFlight.Add(-1)
}
