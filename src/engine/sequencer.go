package engine

import (
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ----- Playback Mode ----- //

const (
	modeForward = iota
	modeReverse
	modePingPong
	modeRandom
)

func playbackModeFromString(s string) int {
	switch s {
	case "reverse":
		return modeReverse
	case "ping-pong":
		return modePingPong
	case "random":
		return modeRandom
	}
	return modeForward
}
func playbackModeToString(mode int) string {
	switch mode {
	case modeReverse:
		return "reverse"
	case modePingPong:
		return "ping-pong"
	case modeRandom:
		return "random"
	}
	return "forward"
}

// ----- Step ----- //

// SeqStep is one slot of the step grid.
type SeqStep struct {
	Pitch      int
	Velocity   int
	Gate       bool
	GateLength float64 // ratio of the step duration
}

func defaultStep() SeqStep {
	return SeqStep{Pitch: 60, Velocity: 100, Gate: false, GateLength: 0.5}
}

var allowedStepCounts = []int{4, 8, 16, 32}

// ----- Sequencer ----- //

// Sequencer advances a cursor over a fixed-size step grid at a 16th-note
// interval derived from the tempo. Like the arpeggiator it schedules against
// absolute deadlines, and the per-step observer fires on every tick whether
// or not the step's gate is on.
type Sequencer struct {
	mu       sync.Mutex
	clk      clock.Clock
	vm       *VoiceManager
	rnd      *rand.Rand
	steps    []SeqStep
	tempo    float64
	swing    float64
	mode     int
	cursor   int
	dir      int // ping-pong direction
	playing  bool
	started  bool // cursor holds a valid position from a previous tick
	timer    *clock.Timer
	deadline time.Time
	ticks    int64
	onStep   func(index int, step SeqStep)
}

func NewSequencer(clk clock.Clock, vm *VoiceManager) *Sequencer {
	steps := make([]SeqStep, 16)
	for i := range steps {
		steps[i] = defaultStep()
	}
	return &Sequencer{
		clk:   clk,
		vm:    vm,
		rnd:   rand.New(rand.NewSource(clk.Now().UnixNano())),
		steps: steps,
		tempo: 120,
		mode:  modeForward,
		dir:   1,
	}
}

func (s *Sequencer) SetCallback(f func(index int, step SeqStep)) {
	s.mu.Lock()
	s.onStep = f
	s.mu.Unlock()
}

func (s *Sequencer) SetTempo(bpm float64) {
	s.mu.Lock()
	s.tempo = clampFloat(bpm, 20, 300)
	s.mu.Unlock()
}

func (s *Sequencer) SetSwing(amount float64) {
	s.mu.Lock()
	s.swing = clampFloat(amount, 0, 1)
	s.mu.Unlock()
}

func (s *Sequencer) SetPlaybackMode(name string) {
	s.mu.Lock()
	s.mode = playbackModeFromString(name)
	s.dir = 1
	s.mu.Unlock()
}

// SetStepCount resizes the grid to the nearest allowed size (4, 8, 16, 32).
// Overlapping step data is preserved; new slots get the default step.
func (s *Sequencer) SetStepCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nearest := allowedStepCounts[0]
	for _, allowed := range allowedStepCounts {
		if abs(allowed-n) < abs(nearest-n) {
			nearest = allowed
		}
	}
	if nearest == len(s.steps) {
		return
	}
	steps := make([]SeqStep, nearest)
	for i := range steps {
		if i < len(s.steps) {
			steps[i] = s.steps[i]
		} else {
			steps[i] = defaultStep()
		}
	}
	s.steps = steps
	if s.cursor >= nearest {
		s.cursor = 0
		s.started = false
	}
}

// SetStep overwrites one step. Reports false for an out-of-range index.
func (s *Sequencer) SetStep(index int, step SeqStep) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.steps) {
		return false
	}
	step.Pitch = clampInt(step.Pitch, 0, 127)
	step.Velocity = clampInt(step.Velocity, 1, 127)
	step.GateLength = clampFloat(step.GateLength, 0.05, 1)
	s.steps[index] = step
	return true
}

func (s *Sequencer) Step(index int) (SeqStep, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.steps) {
		return SeqStep{}, false
	}
	return s.steps[index], true
}

func (s *Sequencer) StepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func (s *Sequencer) Steps() []SeqStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SeqStep(nil), s.steps...)
}

func (s *Sequencer) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Sequencer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Sequencer) Start() {
	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = true
	s.deadline = s.clk.Now()
	s.mu.Unlock()
	s.tick()
}

// Pause cancels the pending tick without resetting the cursor.
func (s *Sequencer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Stop pauses and rewinds to step 0; swing parity restarts with it.
func (s *Sequencer) Stop() {
	s.Pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
	s.dir = 1
	s.started = false
	s.ticks = 0
}

// 16th-note grid, independent of the arpeggiator's division setting
func (s *Sequencer) stepDurationLocked() time.Duration {
	ms := (60000.0 / s.tempo) / 4.0
	if s.ticks%2 == 1 {
		ms *= 1 + s.swing*0.5
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// advanceLocked moves the cursor one step per the playback mode. Ping-pong
// bounces without repeating the boundary step.
func (s *Sequencer) advanceLocked() {
	n := len(s.steps)
	switch s.mode {
	case modeReverse:
		s.cursor = (s.cursor - 1 + n) % n
	case modePingPong:
		next := s.cursor + s.dir
		if next >= n {
			s.dir = -1
			next = n - 2
		} else if next < 0 {
			s.dir = 1
			next = 1
		}
		s.cursor = next
	case modeRandom:
		s.cursor = s.rnd.Intn(n)
	default:
		s.cursor = (s.cursor + 1) % n
	}
}

func (s *Sequencer) tick() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	if s.started {
		s.advanceLocked()
	}
	s.started = true
	index := s.cursor
	step := s.steps[index]
	stepDur := s.stepDurationLocked()
	s.ticks++
	s.deadline = s.deadline.Add(stepDur)
	wait := s.deadline.Sub(s.clk.Now())
	if wait < minTickDelay {
		wait = minTickDelay
	}
	s.timer = s.clk.AfterFunc(wait, s.tick)
	onStep := s.onStep
	s.mu.Unlock()

	if onStep != nil {
		onStep(index, step)
	}
	if step.Gate {
		note := step.Pitch
		s.vm.NoteOn(note, noteToFreq(note), float64(step.Velocity)/127.0)
		s.clk.AfterFunc(time.Duration(float64(stepDur)*step.GateLength), func() {
			s.vm.NoteOff(note)
		})
	}
}
