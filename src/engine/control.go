package engine

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ----- Control ----- //

// Control is the settable scalar handle a signal-graph unit exposes for each
// modulatable parameter. Set takes effect immediately and cancels any ramp in
// flight; RampTo replaces the ramp, starting from the current instantaneous
// value so consecutive ramps never jump.
type Control interface {
	Value() float64
	Set(value float64)
	RampTo(target float64, duration time.Duration)
}

type rampValue struct {
	mu       sync.Mutex
	clk      clock.Clock
	initial  float64
	target   float64
	start    time.Time
	duration time.Duration
	ramping  bool
}

func newRampValue(clk clock.Clock, initial float64) *rampValue {
	return &rampValue{clk: clk, initial: initial}
}

func (r *rampValue) Value() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.valueLocked()
}

func (r *rampValue) valueLocked() float64 {
	if !r.ramping {
		return r.initial
	}
	elapsed := r.clk.Now().Sub(r.start)
	if elapsed >= r.duration {
		r.initial = r.target
		r.ramping = false
		return r.initial
	}
	t := float64(elapsed) / float64(r.duration)
	return t*r.target + (1-t)*r.initial
}

func (r *rampValue) Set(value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initial = value
	r.ramping = false
}

func (r *rampValue) RampTo(target float64, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.valueLocked()
	if duration <= 0 {
		r.initial = target
		r.ramping = false
		return
	}
	r.initial = current
	r.target = target
	r.start = r.clk.Now()
	r.duration = duration
	r.ramping = true
}
