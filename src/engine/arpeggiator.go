package engine

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ----- Arp Pattern ----- //

const (
	patternUp = iota
	patternDown
	patternUpDown
	patternDownUp
	patternUpDownRepeat
	patternDownUpRepeat
	patternConverge
	patternDiverge
	patternPinchedUp
	patternPinchedDown
	patternRandom
	patternShuffle
	patternChord
)

var patternNames = map[int]string{
	patternUp:           "up",
	patternDown:         "down",
	patternUpDown:       "up-down",
	patternDownUp:       "down-up",
	patternUpDownRepeat: "up-down-repeat",
	patternDownUpRepeat: "down-up-repeat",
	patternConverge:     "converge",
	patternDiverge:      "diverge",
	patternPinchedUp:    "pinched-up",
	patternPinchedDown:  "pinched-down",
	patternRandom:       "random",
	patternShuffle:      "shuffle",
	patternChord:        "chord",
}

func patternFromString(s string) int {
	for k, name := range patternNames {
		if name == s {
			return k
		}
	}
	return patternUp
}
func patternToString(p int) string {
	if name, ok := patternNames[p]; ok {
		return name
	}
	return "up"
}

// ----- Note Division ----- //

const (
	divQuarter = iota
	divEighth
	divSixteenth
	divThirtySecond
	divQuarterTriplet
	divEighthTriplet
	divSixteenthTriplet
)

// divisionFactor maps a division to its quarter-note fraction; triplets run
// at 2/3 of the straight duration, so their factor is x1.5.
func divisionFactor(d int) float64 {
	switch d {
	case divQuarter:
		return 1
	case divEighth:
		return 2
	case divSixteenth:
		return 4
	case divThirtySecond:
		return 8
	case divQuarterTriplet:
		return 1.5
	case divEighthTriplet:
		return 3
	case divSixteenthTriplet:
		return 6
	}
	return 4
}

func divisionFromString(s string) int {
	switch s {
	case "1/4":
		return divQuarter
	case "1/8":
		return divEighth
	case "1/16":
		return divSixteenth
	case "1/32":
		return divThirtySecond
	case "1/4t":
		return divQuarterTriplet
	case "1/8t":
		return divEighthTriplet
	case "1/16t":
		return divSixteenthTriplet
	}
	return divSixteenth
}
func divisionToString(d int) string {
	switch d {
	case divQuarter:
		return "1/4"
	case divEighth:
		return "1/8"
	case divSixteenth:
		return "1/16"
	case divThirtySecond:
		return "1/32"
	case divQuarterTriplet:
		return "1/4t"
	case divEighthTriplet:
		return "1/8t"
	case divSixteenthTriplet:
		return "1/16t"
	}
	return "1/16"
}

// ----- Sequence Derivation ----- //

func expandNotes(notes []int, octaves int) []int {
	expanded := make([]int, 0, len(notes)*octaves)
	for o := 0; o < octaves; o++ {
		for _, n := range notes {
			expanded = append(expanded, n+12*o)
		}
	}
	return expanded
}

func reversed(seq []int) []int {
	out := make([]int, len(seq))
	for i, n := range seq {
		out[len(seq)-1-i] = n
	}
	return out
}

// applyPattern reorders the expanded ascending sequence. The up-down family
// walks back down after the top; the plain variants skip the turn-around note,
// the repeat variants double it (only the turn-around, so the loop seam note
// still fires once). Shuffle permutations are drawn elsewhere since they are
// consumed and redrawn.
func applyPattern(expanded []int, pattern int, rnd *rand.Rand) []int {
	n := len(expanded)
	if n == 0 {
		return nil
	}
	switch pattern {
	case patternDown:
		return reversed(expanded)
	case patternUpDown, patternDownUp, patternUpDownRepeat, patternDownUpRepeat:
		half := expanded
		if pattern == patternDownUp || pattern == patternDownUpRepeat {
			half = reversed(expanded)
		}
		from := n - 2
		if pattern == patternUpDownRepeat || pattern == patternDownUpRepeat {
			from = n - 1
		}
		out := append([]int(nil), half...)
		for i := from; i >= 1; i-- {
			out = append(out, half[i])
		}
		return out
	case patternConverge:
		out := make([]int, 0, n)
		for lo, hi := 0, n-1; lo <= hi; lo, hi = lo+1, hi-1 {
			out = append(out, expanded[lo])
			if lo != hi {
				out = append(out, expanded[hi])
			}
		}
		return out
	case patternDiverge:
		out := make([]int, 0, n)
		lo, hi := (n-1)/2, n/2
		if lo == hi {
			out = append(out, expanded[lo])
			lo, hi = lo-1, hi+1
		}
		for lo >= 0 {
			out = append(out, expanded[lo], expanded[hi])
			lo, hi = lo-1, hi+1
		}
		return out
	case patternPinchedUp:
		if n < 2 {
			break
		}
		out := []int{expanded[0], expanded[n-1]}
		return append(out, expanded[1:n-1]...)
	case patternPinchedDown:
		if n < 2 {
			break
		}
		out := []int{expanded[n-1], expanded[0]}
		return append(out, reversed(expanded[1:n-1])...)
	case patternShuffle:
		out := append([]int(nil), expanded...)
		rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}
	// up, chord, random: expanded order as-is
	return append([]int(nil), expanded...)
}

// ----- Arpeggiator ----- //

// NoteEvent is handed to pattern-player callbacks, one per scheduled note.
type NoteEvent struct {
	Note     int
	Velocity int
	Duration time.Duration
}

const minTickDelay = time.Millisecond

// Arpeggiator turns a held chord into a note stream via the voice manager.
// Tick deadlines are derived from an absolute schedule (deadline += duration)
// against the injected clock rather than chained now+duration delays, so
// timer latency does not accumulate as drift.
type Arpeggiator struct {
	mu       sync.Mutex
	clk      clock.Clock
	vm       *VoiceManager
	rnd      *rand.Rand
	notes    []int // held notes, ascending
	pattern  int
	octaves  int
	seq      []int // derived sequence
	cursor   int
	tempo    float64
	division int
	gate     float64
	swing    float64
	humanize float64
	velocity int
	playing  bool
	timer    *clock.Timer
	deadline time.Time
	steps    int64 // absolute step counter, drives swing parity
	onNote   func(step int, ev NoteEvent)
}

func NewArpeggiator(clk clock.Clock, vm *VoiceManager) *Arpeggiator {
	return &Arpeggiator{
		clk:      clk,
		vm:       vm,
		rnd:      rand.New(rand.NewSource(clk.Now().UnixNano())),
		pattern:  patternUp,
		octaves:  1,
		tempo:    120,
		division: divSixteenth,
		gate:     0.5,
		velocity: 100,
	}
}

// SetCallback registers the per-note observer, fired synchronously from the
// scheduler tick.
func (a *Arpeggiator) SetCallback(f func(step int, ev NoteEvent)) {
	a.mu.Lock()
	a.onNote = f
	a.mu.Unlock()
}

// SetNotes replaces the held chord. Notes are kept ascending and deduplicated;
// the derived sequence is recomputed and the cursor resets.
func (a *Arpeggiator) SetNotes(notes []int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sorted := append([]int(nil), notes...)
	sort.Ints(sorted)
	deduped := make([]int, 0, len(sorted))
	for i, n := range sorted {
		if i > 0 && n == sorted[i-1] {
			continue
		}
		deduped = append(deduped, n)
	}
	a.notes = deduped
	a.recomputeLocked()
}

func (a *Arpeggiator) SetPattern(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := patternFromString(name)
	if p == a.pattern {
		return
	}
	a.pattern = p
	a.recomputeLocked()
}

func (a *Arpeggiator) SetOctaves(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n = clampInt(n, 1, 4)
	if n == a.octaves {
		return
	}
	a.octaves = n
	a.recomputeLocked()
}

func (a *Arpeggiator) SetTempo(bpm float64) {
	a.mu.Lock()
	a.tempo = clampFloat(bpm, 20, 300)
	a.mu.Unlock()
}

func (a *Arpeggiator) SetDivision(name string) {
	a.mu.Lock()
	a.division = divisionFromString(name)
	a.mu.Unlock()
}

func (a *Arpeggiator) SetGateLength(ratio float64) {
	a.mu.Lock()
	a.gate = clampFloat(ratio, 0.05, 1)
	a.mu.Unlock()
}

func (a *Arpeggiator) SetSwing(amount float64) {
	a.mu.Lock()
	a.swing = clampFloat(amount, 0, 1)
	a.mu.Unlock()
}

func (a *Arpeggiator) SetHumanize(amount float64) {
	a.mu.Lock()
	a.humanize = clampFloat(amount, 0, 1)
	a.mu.Unlock()
}

func (a *Arpeggiator) SetVelocity(v int) {
	a.mu.Lock()
	a.velocity = clampInt(v, 1, 127)
	a.mu.Unlock()
}

// DerivedSequence returns a copy of the current expanded note order.
func (a *Arpeggiator) DerivedSequence() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.seq...)
}

func (a *Arpeggiator) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

func (a *Arpeggiator) Cursor() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor
}

func (a *Arpeggiator) recomputeLocked() {
	a.seq = applyPattern(expandNotes(a.notes, a.octaves), a.pattern, a.rnd)
	a.cursor = 0
}

// Start plays the first step immediately and begins scheduling.
func (a *Arpeggiator) Start() {
	a.mu.Lock()
	if a.playing {
		a.mu.Unlock()
		return
	}
	a.playing = true
	a.deadline = a.clk.Now()
	a.mu.Unlock()
	a.tick()
}

// Pause halts scheduling without resetting the cursor. The pending tick is
// cancelled, not merely ignored, so a stale callback can never fire after a
// restart with different settings.
func (a *Arpeggiator) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing = false
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Stop pauses and resets the cursor and swing parity; a shuffle pattern is
// redrawn.
func (a *Arpeggiator) Stop() {
	a.Pause()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.steps = 0
	a.recomputeLocked()
}

// Reset is Stop under the name the control surface uses.
func (a *Arpeggiator) Reset() {
	a.Stop()
}

func (a *Arpeggiator) stepDurationLocked() time.Duration {
	ms := (60000.0 / a.tempo) / divisionFactor(a.division)
	if a.steps%2 == 1 {
		ms *= 1 + a.swing*0.5
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (a *Arpeggiator) tick() {
	a.mu.Lock()
	if !a.playing {
		a.mu.Unlock()
		return
	}
	stepDur := a.stepDurationLocked()
	gateDur := time.Duration(float64(stepDur) * a.gate)
	step := a.cursor
	var fire []int
	if len(a.seq) > 0 {
		switch a.pattern {
		case patternChord:
			fire = append(fire, a.seq...)
		case patternRandom:
			fire = append(fire, a.seq[a.rnd.Intn(len(a.seq))])
		default:
			fire = append(fire, a.seq[a.cursor])
			a.cursor++
			if a.cursor >= len(a.seq) {
				a.cursor = 0
				if a.pattern == patternShuffle {
					a.recomputeLocked()
				}
			}
		}
	}
	type firing struct {
		ev    NoteEvent
		delay time.Duration
	}
	firings := make([]firing, 0, len(fire))
	for _, note := range fire {
		vel := a.velocity
		delay := time.Duration(0)
		if a.humanize > 0 {
			vel += int((a.rnd.Float64()*2 - 1) * 0.1 * a.humanize * 127)
			vel = clampInt(vel, 1, 127)
			jitter := (a.rnd.Float64()*2 - 1) * 10 * a.humanize // ms
			delay = time.Duration(jitter * float64(time.Millisecond))
			// extreme swing/humanize combinations could otherwise yield a
			// negative schedule
			if delay < 0 {
				delay = 0
			}
		}
		firings = append(firings, firing{ev: NoteEvent{Note: note, Velocity: vel, Duration: gateDur}, delay: delay})
	}
	a.steps++
	a.deadline = a.deadline.Add(stepDur)
	wait := a.deadline.Sub(a.clk.Now())
	if wait < minTickDelay {
		wait = minTickDelay
	}
	a.timer = a.clk.AfterFunc(wait, a.tick)
	onNote := a.onNote
	a.mu.Unlock()

	for _, f := range firings {
		f := f
		play := func() {
			a.vm.NoteOn(f.ev.Note, noteToFreq(f.ev.Note), float64(f.ev.Velocity)/127.0)
			a.clk.AfterFunc(f.ev.Duration, func() {
				a.vm.NoteOff(f.ev.Note)
			})
		}
		if f.delay > 0 {
			a.clk.AfterFunc(f.delay, play)
		} else {
			play()
		}
		if onNote != nil {
			onNote(step, f.ev)
		}
	}
}
