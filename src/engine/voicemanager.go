package engine

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ----- ADSR Settings ----- //

type adsrSettings struct {
	attack  float64 // sec
	decay   float64 // sec
	sustain float64 // 0-1
	release float64 // sec
}

// ----- Voice Manager ----- //

const (
	maxPolyphony     = 64
	defaultPolyphony = 16
	teardownGuard    = 50 * time.Millisecond
)

// VoiceManager is the single entry point through which note events become
// sounding or silent. It owns the active voice set, enforces the polyphony
// ceiling by stealing the oldest voice, and keeps the modulation router's
// triggered mode honest (start on first note, stop after the last teardown).
type VoiceManager struct {
	mu     sync.Mutex
	clk    clock.Clock
	graph  *Graph
	router *ModRouter
	poly   int
	guard  time.Duration
	slots  []slotConfig
	adsr   adsrSettings
	mod    modConfig
	voices []*Voice // insertion order, oldest first
	byNote map[int]*Voice
	nextID int64
}

func NewVoiceManager(clk clock.Clock, graph *Graph, router *ModRouter) *VoiceManager {
	return &VoiceManager{
		clk:    clk,
		graph:  graph,
		router: router,
		poly:   defaultPolyphony,
		guard:  teardownGuard,
		slots:  defaultSlots(),
		adsr:   adsrSettings{attack: 0.01, decay: 0.1, sustain: 0.7, release: 0.2},
		mod:    modConfig{mode: routerModeFree},
		byNote: make(map[int]*Voice),
	}
}

func (vm *VoiceManager) SetPolyphony(n int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.poly = clampInt(n, 1, maxPolyphony)
	for len(vm.voices) > vm.poly {
		vm.teardownLocked(vm.voices[0])
	}
}

func (vm *VoiceManager) setSlots(slots []slotConfig) {
	vm.mu.Lock()
	vm.slots = append([]slotConfig(nil), slots...)
	vm.mu.Unlock()
}

// setADSR updates the settings for new voices and pushes them to live
// envelopes; in-flight ramp segments are unaffected, only ramps scheduled
// after this call see the new values.
func (vm *VoiceManager) setADSR(s adsrSettings) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.adsr = s
	for _, v := range vm.voices {
		for _, c := range v.chains {
			c.env.SetSettings(s.attack, s.decay, s.sustain, s.release)
		}
	}
}

func (vm *VoiceManager) setModConfig(mod modConfig) {
	vm.mu.Lock()
	vm.mod = mod
	vm.mu.Unlock()
}

func (vm *VoiceManager) ActiveVoiceCount() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.voices)
}

func (vm *VoiceManager) voiceFor(noteIndex int) *Voice {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.byNote[noteIndex]
}

// NoteOn allocates and triggers a voice for noteIndex. An already-sounding
// voice on the same noteIndex is torn down synchronously first, so exactly
// one voice per noteIndex exists afterwards. When the ceiling is hit, the
// oldest voice is stolen before allocating.
func (vm *VoiceManager) NoteOn(noteIndex int, baseFreq float64, velocity float64) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if prev := vm.byNote[noteIndex]; prev != nil {
		vm.teardownLocked(prev)
	}
	for len(vm.voices) >= vm.poly {
		vm.teardownLocked(vm.voices[0])
	}
	id := vm.nextID
	vm.nextID++
	v := newVoice(vm.clk, vm.graph, id, noteIndex, baseFreq, vm.slots, vm.adsr)
	v.connect(vm.graph)
	if vm.mod.enabled {
		if vm.mod.mode == routerModeTriggered && !vm.router.Running() {
			vm.router.Start()
		}
		v.registerModTargets(vm.router, vm.mod)
	}
	v.trigger(clampFloat(velocity, 0, 1))
	vm.voices = append(vm.voices, v)
	vm.byNote[noteIndex] = v
}

// NoteOff releases the voice's envelopes and schedules teardown for after the
// longest release plus a guard interval. Reports false for an unknown or
// already-releasing noteIndex; a double note-off from a racing control surface
// is expected and must not postpone the pending teardown.
func (vm *VoiceManager) NoteOff(noteIndex int) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	v := vm.byNote[noteIndex]
	if v == nil || !v.active || v.teardown != nil {
		return false
	}
	v.release()
	v.teardown = vm.clk.AfterFunc(v.maxReleaseTime()+vm.guard, func() {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		vm.teardownLocked(v)
	})
	return true
}

// ReleaseAll releases every active voice, as if note-off arrived for each.
func (vm *VoiceManager) ReleaseAll() {
	vm.mu.Lock()
	notes := make([]int, 0, len(vm.byNote))
	for n := range vm.byNote {
		notes = append(notes, n)
	}
	vm.mu.Unlock()
	for _, n := range notes {
		vm.NoteOff(n)
	}
}

// teardownLocked is idempotent: a pending teardown timer firing after the
// voice was already stolen or retriggered finds active == false and returns.
func (vm *VoiceManager) teardownLocked(v *Voice) {
	if !v.active {
		return
	}
	v.active = false
	if v.teardown != nil {
		v.teardown.Stop()
		v.teardown = nil
	}
	v.shutdown(vm.router)
	for i, existing := range vm.voices {
		if existing == v {
			vm.voices = append(vm.voices[:i], vm.voices[i+1:]...)
			break
		}
	}
	if vm.byNote[v.noteIndex] == v {
		delete(vm.byNote, v.noteIndex)
	}
	if vm.mod.enabled && vm.mod.mode == routerModeTriggered && len(vm.voices) == 0 {
		vm.router.Stop()
	}
}
