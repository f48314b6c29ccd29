package engine

import (
	"math"
	"math/rand"
)

// ----- Wave Kind ----- //

const (
	waveNone = iota
	waveSine
	waveTriangle
	waveSquare
	waveSawtooth
	waveRandom
)

func waveKindFromString(s string) int {
	switch s {
	case "sine":
		return waveSine
	case "triangle":
		return waveTriangle
	case "square":
		return waveSquare
	case "sawtooth":
		return waveSawtooth
	case "random":
		return waveRandom
	}
	return waveNone
}
func waveKindToString(kind int) string {
	switch kind {
	case waveSine:
		return "sine"
	case waveTriangle:
		return "triangle"
	case waveSquare:
		return "square"
	case waveSawtooth:
		return "sawtooth"
	case waveRandom:
		return "random"
	}
	return "none"
}

// ----- OSC ----- //

// osc is a phase accumulator shared by the generator nodes (stepped at sample
// rate) and the modulation router's LFO (stepped at control rate). phase is
// kept in 0-1; advancing never resets it, so the waveform stays continuous
// across parameter and target-set changes.
type osc struct {
	kind  int
	phase float64 // 0-1
	hold  float64 // sample & hold value for waveRandom
	rnd   *rand.Rand
}

func newOsc(kind int, rnd *rand.Rand) *osc {
	return &osc{kind: kind, rnd: rnd, phase: 0}
}

// advance moves the phase by dPhase cycles and returns the new sample in -1..1.
func (o *osc) advance(dPhase float64) float64 {
	o.phase += dPhase
	if o.phase >= 1 {
		_, o.phase = math.Modf(o.phase)
		if o.kind == waveRandom {
			o.hold = o.randFloat()*2 - 1
		}
	}
	return o.value()
}

func (o *osc) value() float64 {
	p := positiveMod(o.phase, 1)
	switch o.kind {
	case waveSine:
		return math.Sin(2 * math.Pi * p)
	case waveTriangle:
		if p < 0.5 {
			return p*4 - 1
		}
		return p*(-4) + 3
	case waveSquare:
		if p < 0.5 {
			return 1
		}
		return -1
	case waveSawtooth:
		return p*2 - 1
	case waveRandom:
		return o.hold
	}
	return 0
}

func (o *osc) randFloat() float64 {
	if o.rnd != nil {
		return o.rnd.Float64()
	}
	return rand.Float64()
}
