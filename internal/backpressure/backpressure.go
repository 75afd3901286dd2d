// Package backpressure implements admission control for the correlator's
// pending-group queue using a PID controller: here the "plant" is the
// correlator backlog, and the controlled output is an admission duty
// cycle instead of a PWM duty cycle.
package backpressure

import (
	"time"

	"github.com/felixge/pidctrl"
)

// TargetBacklog is the steady-state number of pending correlator groups the
// controller tries to hold the system at.
const TargetBacklog = 64

// Controller throttles new-message admission when the correlator's pending
// group count grows faster than the solver can drain it, rather than
// buffering unboundedly or dropping at a fixed threshold.
type Controller struct {
	pid          *pidctrl.PIDController
	lastDuty     float64
	lastUpdate   time.Time
}

// New constructs a backpressure controller targeting TargetBacklog pending
// groups, with gains carried over from the fan controller's tuning (the
// plant dynamics — backlog growth under load — are similarly first-order).
func New() *Controller {
	pid := pidctrl.NewPIDController(0.2, 0.2, 0.1)
	pid.SetOutputLimits(-100, 0)
	pid.Set(TargetBacklog)
	return &Controller{pid: pid, lastDuty: 100, lastUpdate: time.Now()}
}

// Update feeds the current pending-group count and returns an admission
// duty cycle in [0, 100]: 100 admits everything, 0 admits nothing new
// (in-flight groups still drain normally).
func (c *Controller) Update(pendingGroups int, now time.Time) float64 {
	dt := now.Sub(c.lastUpdate)
	if dt <= 0 {
		dt = time.Millisecond
	}
	c.lastUpdate = now

	out := 100 + c.pid.UpdateDuration(float64(pendingGroups), dt)
	if out < 0 {
		out = 0
	}
	if out > 100 {
		out = 100
	}
	c.lastDuty = out
	return out
}

// ShouldAdmit reports whether a new sighting should be admitted, given a
// deterministic counter that increases monotonically (e.g. a receiver's
// message sequence number), so admission is reproducible rather than
// randomized.
func (c *Controller) ShouldAdmit(counter uint64) bool {
	if c.lastDuty >= 100 {
		return true
	}
	if c.lastDuty <= 0 {
		return false
	}
	return counter%100 < uint64(c.lastDuty)
}
