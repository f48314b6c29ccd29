package engine

import (
	"errors"
	"math"
	"sync"

	"github.com/benbjohnson/clock"
)

// ----- Graph ----- //

var (
	errGraphClosed   = errors.New("graph is closed")
	errNotConnected  = errors.New("unit is not connected")
	errBadConnection = errors.New("invalid connection target")
)

// Unit is one audio-processing node of the signal graph. The control core
// never looks inside a Unit; it only connects, disconnects and writes to the
// Controls the unit exposes.
type Unit interface {
	Connect(dst Unit) error
	Disconnect() error
}

// Generator is a Unit that produces sound and exposes its modulatable
// parameters as first-class capabilities instead of requiring callers to
// reach into its internals.
type Generator interface {
	Unit
	Start()
	Stop()
	PitchControl() Control
	AmplitudeControl() Control
}

type sampler interface {
	sample() float64
}

// Graph owns the node set and renders the mix bus. Closing the graph makes
// every Connect/Disconnect fail, which is how collaborator failures reach the
// voice manager.
type Graph struct {
	mu     sync.Mutex
	clk    clock.Clock
	mix    *mixBus
	closed bool
}

func NewGraph(clk clock.Clock) *Graph {
	g := &Graph{clk: clk}
	g.mix = &mixBus{g: g}
	return g
}

func (g *Graph) MixBus() Unit { return g.mix }

func (g *Graph) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *Graph) NewGenerator(kind int) *GenNode {
	return &GenNode{
		g:     g,
		osc:   newOsc(kind, nil),
		pitch: newRampValue(g.clk, 0),
		amp:   newRampValue(g.clk, 1),
	}
}

func (g *Graph) NewGain() *GainNode {
	return &GainNode{g: g, gain: newRampValue(g.clk, 0)}
}

func (g *Graph) NewPan() *PanNode {
	return &PanNode{g: g, pan: newRampValue(g.clk, 0)}
}

// PitchInput returns the connection endpoint for frequency-modulating gen.
// Connecting a generator here routes its output into gen's pitch instead of
// the mix bus; the two routings are mutually exclusive for a chain.
func (g *Graph) PitchInput(gen *GenNode) Unit {
	return &pitchInput{gen: gen}
}

// render sums every pan node connected to the mix bus into the stereo buffers.
func (g *Graph) render(outL, outR []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range outL {
		outL[i] = 0
		outR[i] = 0
		for _, p := range g.mix.pans {
			l, r := p.sampleLR()
			outL[i] += l
			outR[i] += r
		}
	}
}

// ----- Generator Node ----- //

type GenNode struct {
	g       *Graph
	osc     *osc
	pitch   *rampValue // Hz
	amp     *rampValue // 0-1
	fm      *GenNode   // source modulating this node's pitch
	dst     Unit
	running bool
}

func (n *GenNode) PitchControl() Control     { return n.pitch }
func (n *GenNode) AmplitudeControl() Control { return n.amp }

func (n *GenNode) Start() {
	n.g.mu.Lock()
	n.running = true
	n.g.mu.Unlock()
}

func (n *GenNode) Stop() {
	n.g.mu.Lock()
	n.running = false
	n.g.mu.Unlock()
}

func (n *GenNode) Connect(dst Unit) error {
	n.g.mu.Lock()
	defer n.g.mu.Unlock()
	if n.g.closed {
		return errGraphClosed
	}
	switch d := dst.(type) {
	case *pitchInput:
		d.gen.fm = n
	case *GainNode:
		d.src = n
	case *PanNode:
		d.src = n
	default:
		return errBadConnection
	}
	n.dst = dst
	return nil
}

func (n *GenNode) Disconnect() error {
	n.g.mu.Lock()
	defer n.g.mu.Unlock()
	if n.g.closed {
		return errGraphClosed
	}
	if n.dst == nil {
		return errNotConnected
	}
	switch d := n.dst.(type) {
	case *pitchInput:
		d.gen.fm = nil
	case *GainNode:
		d.src = nil
	case *PanNode:
		d.src = nil
	}
	n.dst = nil
	return nil
}

// sample is called with the graph lock held.
func (n *GenNode) sample() float64 {
	if !n.running {
		return 0
	}
	freq := n.pitch.Value()
	if n.fm != nil {
		freq *= math.Pow(2.0, n.fm.sample())
	}
	return n.osc.advance(freq/float64(sampleRate)) * n.amp.Value()
}

// ----- Gain Node ----- //

type GainNode struct {
	g    *Graph
	src  sampler
	gain *rampValue
	dst  Unit
}

func (n *GainNode) GainControl() Control { return n.gain }

func (n *GainNode) Connect(dst Unit) error {
	n.g.mu.Lock()
	defer n.g.mu.Unlock()
	if n.g.closed {
		return errGraphClosed
	}
	p, ok := dst.(*PanNode)
	if !ok {
		return errBadConnection
	}
	p.src = n
	n.dst = dst
	return nil
}

func (n *GainNode) Disconnect() error {
	n.g.mu.Lock()
	defer n.g.mu.Unlock()
	if n.g.closed {
		return errGraphClosed
	}
	if n.dst == nil {
		return errNotConnected
	}
	if p, ok := n.dst.(*PanNode); ok {
		p.src = nil
	}
	n.dst = nil
	return nil
}

func (n *GainNode) sample() float64 {
	if n.src == nil {
		return 0
	}
	return n.src.sample() * n.gain.Value()
}

// ----- Pan Node ----- //

type PanNode struct {
	g   *Graph
	src sampler
	pan *rampValue // -1 (left) to 1 (right)
	mix *mixBus
}

func (n *PanNode) PanControl() Control { return n.pan }

func (n *PanNode) Connect(dst Unit) error {
	n.g.mu.Lock()
	defer n.g.mu.Unlock()
	if n.g.closed {
		return errGraphClosed
	}
	m, ok := dst.(*mixBus)
	if !ok {
		return errBadConnection
	}
	m.pans = append(m.pans, n)
	n.mix = m
	return nil
}

func (n *PanNode) Disconnect() error {
	n.g.mu.Lock()
	defer n.g.mu.Unlock()
	if n.g.closed {
		return errGraphClosed
	}
	if n.mix == nil {
		return errNotConnected
	}
	for i, p := range n.mix.pans {
		if p == n {
			n.mix.pans = append(n.mix.pans[:i], n.mix.pans[i+1:]...)
			break
		}
	}
	n.mix = nil
	return nil
}

// equal-power panning
func (n *PanNode) sampleLR() (float64, float64) {
	if n.src == nil {
		return 0, 0
	}
	v := n.src.sample()
	p := clampFloat(n.pan.Value(), -1, 1)
	angle := (p + 1) * math.Pi / 4
	return v * math.Cos(angle), v * math.Sin(angle)
}

// ----- Mix Bus ----- //

type mixBus struct {
	g    *Graph
	pans []*PanNode
}

func (m *mixBus) Connect(dst Unit) error { return errBadConnection }
func (m *mixBus) Disconnect() error      { return nil }

// ----- Pitch Input ----- //

type pitchInput struct {
	gen *GenNode
}

func (p *pitchInput) Connect(dst Unit) error { return errBadConnection }
func (p *pitchInput) Disconnect() error {
	p.gen.fm = nil
	return nil
}
