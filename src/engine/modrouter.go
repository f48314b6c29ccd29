package engine

import (
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ----- Target Key ----- //

// ParamKind identifies which parameter of a voice slot a modulation target
// drives.
type ParamKind int

const (
	ParamPitch ParamKind = iota
	ParamVolume
	ParamPan
)

// TargetKey uniquely identifies a modulation target without string
// concatenation: the same (voice, slot, param) tuple can never collide across
// simultaneous voices.
type TargetKey struct {
	Voice int64
	Slot  int
	Param ParamKind
}

type modTarget struct {
	handle   Control
	depth    float64
	baseline float64
}

// ----- Mod Router ----- //

const (
	minLfoFreq     = 0.01
	maxLfoFreq     = 20.0
	maxTargetDepth = 10000.0
	lfoTick        = 5 * time.Millisecond
)

// ModRouter runs one low-frequency oscillator against a dynamically changing
// target set. Every control tick each target's handle is written
// baseline + depth*sample; targets added while running pick up the current
// phase, never a restarted one. The router does not know whether it is
// free-running or note-triggered; whoever calls Start/Stop enforces that.
type ModRouter struct {
	mu       sync.Mutex
	clk      clock.Clock
	osc      *osc
	freq     float64
	targets  map[TargetKey]*modTarget
	running  bool
	timer    *clock.Timer
	lastTick time.Time
	value    float64
}

func NewModRouter(clk clock.Clock) *ModRouter {
	return &ModRouter{
		clk:     clk,
		osc:     newOsc(waveSine, rand.New(rand.NewSource(clk.Now().UnixNano()))),
		freq:    1.0,
		targets: make(map[TargetKey]*modTarget),
	}
}

func (m *ModRouter) SetFreq(freq float64) {
	m.mu.Lock()
	m.freq = clampFloat(freq, minLfoFreq, maxLfoFreq)
	m.mu.Unlock()
}

func (m *ModRouter) SetWave(kind int) {
	m.mu.Lock()
	m.osc.kind = kind
	m.mu.Unlock()
}

// Value returns the oscillator sample of the last control tick.
func (m *ModRouter) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

func (m *ModRouter) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *ModRouter) TargetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.targets)
}

// AddTarget registers or replaces a target. While the router runs, the handle
// is driven immediately with the current sample so its value is continuous
// with the other targets.
func (m *ModRouter) AddTarget(key TargetKey, handle Control, depth, baseline float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &modTarget{
		handle:   handle,
		depth:    clampFloat(depth, -maxTargetDepth, maxTargetDepth),
		baseline: baseline,
	}
	m.targets[key] = t
	if m.running {
		t.handle.Set(t.baseline + t.depth*m.value)
	}
}

// RemoveTarget reports whether the key was present. The handle keeps its last
// driven value.
func (m *ModRouter) RemoveTarget(key TargetKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.targets[key]
	delete(m.targets, key)
	return ok
}

// RemoveVoiceTargets drops every target keyed to the given voice and returns
// how many were removed.
func (m *ModRouter) RemoveVoiceTargets(voice int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key := range m.targets {
		if key.Voice == voice {
			delete(m.targets, key)
			removed++
		}
	}
	return removed
}

func (m *ModRouter) SetTargetDepth(key TargetKey, depth float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[key]
	if !ok {
		return false
	}
	t.depth = clampFloat(depth, -maxTargetDepth, maxTargetDepth)
	return true
}

func (m *ModRouter) SetTargetBaseline(key TargetKey, baseline float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[key]
	if !ok {
		return false
	}
	t.baseline = baseline
	return true
}

// Start begins driving all current targets. The oscillator phase is wherever
// the last run left it; restarting never clicks.
func (m *ModRouter) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.lastTick = m.clk.Now()
	m.value = m.osc.value()
	m.driveLocked()
	m.timer = m.clk.AfterFunc(lfoTick, m.tick)
}

// Stop halts the oscillator; every target stays at its last driven value.
func (m *ModRouter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *ModRouter) tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	now := m.clk.Now()
	dt := now.Sub(m.lastTick)
	m.lastTick = now
	m.value = m.osc.advance(m.freq * dt.Seconds())
	m.driveLocked()
	m.timer = m.clk.AfterFunc(lfoTick, m.tick)
}

func (m *ModRouter) driveLocked() {
	for _, t := range m.targets {
		t.handle.Set(t.baseline + t.depth*m.value)
	}
}
