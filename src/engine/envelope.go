package engine

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ----- Envelope Phase ----- //

const (
	phaseIdle = iota
	phaseAttack
	phaseDecay
	phaseSustain
	phaseRelease
)

func phaseToString(phase int) string {
	switch phase {
	case phaseAttack:
		return "attack"
	case phaseDecay:
		return "decay"
	case phaseSustain:
		return "sustain"
	case phaseRelease:
		return "release"
	}
	return "idle"
}

// ----- Envelope ----- //

// Envelope drives one gain handle through idle → attack → decay → sustain →
// release. A trigger in any phase ramps from the current instantaneous level,
// never from zero; that keeps the level continuous on fast retriggers.
// Setting changes apply to ramps scheduled after the change, not to a ramp
// already in flight.
type Envelope struct {
	mu      sync.Mutex
	clk     clock.Clock
	level   Control
	attack  float64 // sec
	decay   float64 // sec
	sustain float64 // 0-1
	release float64 // sec
	phase   int
	peak    float64 // velocity of the last trigger
	timer   *clock.Timer
}

func NewEnvelope(clk clock.Clock, level Control) *Envelope {
	return &Envelope{
		clk:     clk,
		level:   level,
		attack:  0.01,
		decay:   0.1,
		sustain: 0.7,
		release: 0.2,
		phase:   phaseIdle,
	}
}

// SetSettings clamps out-of-range values instead of rejecting them; a live
// control surface must keep producing sound over a bad knob value.
func (e *Envelope) SetSettings(attack, decay, sustain, release float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attack = clampFloat(attack, 0, maxEnvelopeSeconds)
	e.decay = clampFloat(decay, 0, maxEnvelopeSeconds)
	e.sustain = clampFloat(sustain, 0, 1)
	e.release = clampFloat(release, 0, maxEnvelopeSeconds)
}

func (e *Envelope) Phase() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Envelope) Level() float64 {
	return e.level.Value()
}

func (e *Envelope) ReleaseTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return secondsToDuration(e.release)
}

// Trigger starts an attack ramp from the current level to velocity. Valid in
// any phase; a pending phase transition is cancelled first.
func (e *Envelope) Trigger(velocity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimerLocked()
	e.peak = clampFloat(velocity, 0, 1)
	e.phase = phaseAttack
	attack := secondsToDuration(e.attack)
	e.level.RampTo(e.peak, attack)
	e.timer = e.clk.AfterFunc(attack, e.beginDecay)
}

func (e *Envelope) beginDecay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != phaseAttack {
		return
	}
	e.phase = phaseDecay
	decay := secondsToDuration(e.decay)
	e.level.RampTo(e.peak*e.sustain, decay)
	e.timer = e.clk.AfterFunc(decay, e.beginSustain)
}

func (e *Envelope) beginSustain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != phaseDecay {
		return
	}
	e.phase = phaseSustain
	e.level.Set(e.peak * e.sustain)
}

// TriggerRelease ramps from the current level to zero. No-op when idle or
// already releasing.
func (e *Envelope) TriggerRelease() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == phaseIdle || e.phase == phaseRelease {
		return
	}
	e.stopTimerLocked()
	e.phase = phaseRelease
	release := secondsToDuration(e.release)
	e.level.RampTo(0, release)
	e.timer = e.clk.AfterFunc(release, e.becomeIdle)
}

func (e *Envelope) becomeIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != phaseRelease {
		return
	}
	e.phase = phaseIdle
	e.level.Set(0)
}

func (e *Envelope) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
