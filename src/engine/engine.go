package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/hajimehoshi/oto"
)

const (
	sampleRate      = 48000
	channelNum      = 2
	bitDepthInBytes = 2
	samplesPerCycle = 1024
)
const bytesPerSample = bitDepthInBytes * channelNum
const bufferSizeInBytes = samplesPerCycle * bytesPerSample // should be >= 4096
const baseFreq = 442.0
const voiceGain = 0.1
const maxEnvelopeSeconds = 20.0

// ----- Utility ----- //

func positiveMod(a float64, b float64) float64 {
	if b < 0 {
		panic("b should not be negative")
	}
	for a < 0 {
		a += b
	}
	return math.Mod(a, b)
}
func noteToFreq(note int) float64 {
	return baseFreq * math.Pow(2, float64(note-69)/12)
}
func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
func toRawMessage(v interface{}) json.RawMessage {
	bytes, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return json.RawMessage(bytes)
}

// ----- Changes ----- //

// Changes collects dirty keys for the report loop.
type Changes struct {
	sync.Mutex
	dict map[string]struct{}
}

func newChanges() *Changes {
	return &Changes{dict: make(map[string]struct{})}
}

func (c *Changes) Add(key string) {
	c.Lock()
	c.dict[key] = struct{}{}
	c.Unlock()
}

func (c *Changes) Has(key string) bool {
	c.Lock()
	_, ok := c.dict[key]
	c.Unlock()
	return ok
}

func (c *Changes) Delete(key string) {
	c.Lock()
	delete(c.dict, key)
	c.Unlock()
}

// ----- Engine ----- //

// Engine wires the explicitly-owned instances together: graph, modulation
// router, voice manager and the two pattern players. Nothing in here is a
// package-level singleton; tests construct as many engines as they want.
type Engine struct {
	mu         sync.Mutex
	ctx        context.Context
	clk        clock.Clock
	otoContext *oto.Context
	CommandCh  chan []string
	Changes    *Changes
	params     *params
	graph      *Graph
	router     *ModRouter
	vm         *VoiceManager
	arp        *Arpeggiator
	seq        *Sequencer
	presets    *presetManager
	outL       []float64
	outR       []float64
}

var _ io.Reader = (*Engine)(nil)

// NewEngine opens the audio device and starts the command loop.
func NewEngine(presetDir string) (*Engine, error) {
	otoContext, err := oto.NewContext(sampleRate, channelNum, bitDepthInBytes, bufferSizeInBytes)
	if err != nil {
		return nil, err
	}
	e := newEngine(clock.New(), presetDir)
	e.otoContext = otoContext
	go processCommands(e, e.CommandCh)
	return e, nil
}

func newEngine(clk clock.Clock, presetDir string) *Engine {
	graph := NewGraph(clk)
	router := NewModRouter(clk)
	vm := NewVoiceManager(clk, graph, router)
	e := &Engine{
		ctx:       context.Background(),
		clk:       clk,
		CommandCh: make(chan []string, 256),
		Changes:   newChanges(),
		params:    newParams(),
		graph:     graph,
		router:    router,
		vm:        vm,
		arp:       NewArpeggiator(clk, vm),
		seq:       NewSequencer(clk, vm),
		presets:   newPresetManager(presetDir),
		outL:      make([]float64, samplesPerCycle),
		outR:      make([]float64, samplesPerCycle),
	}
	e.arp.SetCallback(func(step int, ev NoteEvent) {
		e.Changes.Add("arp")
	})
	e.seq.SetCallback(func(index int, step SeqStep) {
		e.Changes.Add("seq")
	})
	e.applyParams()
	return e
}

func processCommands(e *Engine, commandCh <-chan []string) {
	for command := range commandCh {
		if err := e.update(command); err != nil {
			log.Printf("command %v failed: %v", command, err)
		}
	}
	log.Println("processCommands() ended.")
}

// applyParams pushes the whole params aggregate into the live components.
func (e *Engine) applyParams() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyVoiceParamsLocked()
	e.applyRouterParamsLocked()
	e.applyArpParamsLocked()
	e.applySeqParamsLocked()
}

func (e *Engine) applyVoiceParamsLocked() {
	e.vm.SetPolyphony(e.params.poly)
	e.vm.setADSR(e.params.adsr.settings())
	e.vm.setSlots(e.params.slotConfigs())
}

func (e *Engine) applyRouterParamsLocked() {
	p := e.params.router
	e.router.SetWave(p.wave)
	e.router.SetFreq(p.freq)
	e.vm.setModConfig(p.config())
	if !p.enabled {
		e.router.Stop()
		return
	}
	if p.mode == routerModeFree {
		e.router.Start()
	}
	// triggered mode: the voice manager starts and stops the router
}

func (e *Engine) applyArpParamsLocked() {
	p := e.params.arp
	e.arp.SetPattern(patternToString(p.pattern))
	e.arp.SetOctaves(p.octaves)
	e.arp.SetTempo(p.tempo)
	e.arp.SetDivision(divisionToString(p.division))
	e.arp.SetGateLength(p.gate)
	e.arp.SetSwing(p.swing)
	e.arp.SetHumanize(p.humanize)
	e.arp.SetVelocity(p.velocity)
}

func (e *Engine) applySeqParamsLocked() {
	p := e.params.seq
	e.seq.SetTempo(p.tempo)
	e.seq.SetSwing(p.swing)
	e.seq.SetPlaybackMode(playbackModeToString(p.mode))
	e.seq.SetStepCount(len(p.steps))
	for i, step := range p.steps {
		e.seq.SetStep(i, step)
	}
}

// ----- Commands ----- //

func (e *Engine) update(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}
	switch command[0] {
	case "set":
		return e.updateSet(command[1:])
	case "note_on":
		if len(command) < 2 {
			return fmt.Errorf("note_on: missing note")
		}
		note, err := strconv.ParseInt(command[1], 10, 32)
		if err != nil {
			return err
		}
		velocity := 1.0
		if len(command) >= 3 {
			v, err := strconv.ParseFloat(command[2], 64)
			if err != nil {
				return err
			}
			velocity = v
		}
		e.vm.NoteOn(int(note), noteToFreq(int(note)), velocity)
		e.Changes.Add("voices")
	case "note_off":
		if len(command) < 2 {
			return fmt.Errorf("note_off: missing note")
		}
		note, err := strconv.ParseInt(command[1], 10, 32)
		if err != nil {
			return err
		}
		e.vm.NoteOff(int(note))
		e.Changes.Add("voices")
	case "arp":
		return e.updateArp(command[1:])
	case "seq":
		return e.updateSeq(command[1:])
	case "router":
		if len(command) < 2 {
			return fmt.Errorf("router: missing action")
		}
		switch command[1] {
		case "start":
			e.router.Start()
		case "stop":
			e.router.Stop()
		default:
			return fmt.Errorf("unknown router action %v", command[1])
		}
	case "preset":
		return e.updatePreset(command[1:])
	default:
		return fmt.Errorf("unknown command %v", command[0])
	}
	return nil
}

func (e *Engine) updateSet(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("set: missing target")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch command[0] {
	case "poly":
		if len(command) != 2 {
			return fmt.Errorf("invalid key-value pair %v", command)
		}
		v, err := strconv.ParseInt(command[1], 10, 64)
		if err != nil {
			return err
		}
		e.params.poly = clampInt(int(v), 1, maxPolyphony)
		e.vm.SetPolyphony(e.params.poly)
	case "adsr":
		if len(command) != 3 {
			return fmt.Errorf("invalid key-value pair %v", command[1:])
		}
		if err := e.params.adsr.set(command[1], command[2]); err != nil {
			return err
		}
		e.vm.setADSR(e.params.adsr.settings())
	case "slot":
		if len(command) != 4 {
			return fmt.Errorf("invalid slot command %v", command[1:])
		}
		index, err := strconv.ParseInt(command[1], 10, 64)
		if err != nil {
			return err
		}
		if index < 0 || int(index) >= len(e.params.slots) {
			return fmt.Errorf("unknown slot %v", index)
		}
		if err := e.params.slots[index].set(command[2], command[3]); err != nil {
			return err
		}
		e.vm.setSlots(e.params.slotConfigs())
	case "router":
		if len(command) != 3 {
			return fmt.Errorf("invalid key-value pair %v", command[1:])
		}
		if err := e.params.router.set(command[1], command[2]); err != nil {
			return err
		}
		e.applyRouterParamsLocked()
	case "arp":
		if len(command) != 3 {
			return fmt.Errorf("invalid key-value pair %v", command[1:])
		}
		if err := e.params.arp.set(command[1], command[2]); err != nil {
			return err
		}
		e.applyArpParamsLocked()
	case "seq":
		if len(command) != 3 {
			return fmt.Errorf("invalid key-value pair %v", command[1:])
		}
		if err := e.params.seq.set(command[1], command[2]); err != nil {
			return err
		}
		e.applySeqParamsLocked()
	case "seq_steps":
		if len(command) != 2 {
			return fmt.Errorf("invalid key-value pair %v", command)
		}
		v, err := strconv.ParseInt(command[1], 10, 64)
		if err != nil {
			return err
		}
		e.seq.SetStepCount(int(v))
		e.params.seq.steps = e.seq.Steps()
	case "seq_step":
		// set seq_step <index> <field> <value>
		if len(command) != 4 {
			return fmt.Errorf("invalid seq_step command %v", command[1:])
		}
		index, err := strconv.ParseInt(command[1], 10, 64)
		if err != nil {
			return err
		}
		step, ok := e.seq.Step(int(index))
		if !ok {
			return fmt.Errorf("unknown step %v", index)
		}
		switch command[2] {
		case "gate":
			step.Gate = command[3] == "true"
		case "pitch", "velocity":
			v, err := strconv.ParseInt(command[3], 10, 64)
			if err != nil {
				return err
			}
			if command[2] == "pitch" {
				step.Pitch = int(v)
			} else {
				step.Velocity = int(v)
			}
		case "gate_length":
			v, err := strconv.ParseFloat(command[3], 64)
			if err != nil {
				return err
			}
			step.GateLength = v
		default:
			return fmt.Errorf("unknown step field %v", command[2])
		}
		e.seq.SetStep(int(index), step)
		e.params.seq.steps = e.seq.Steps()
	default:
		return fmt.Errorf("unknown set target %v", command[0])
	}
	e.Changes.Add("data")
	return nil
}

func (e *Engine) updateArp(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("arp: missing action")
	}
	switch command[0] {
	case "start":
		e.arp.Start()
	case "pause":
		e.arp.Pause()
	case "stop":
		e.arp.Stop()
	case "notes":
		if len(command) != 2 {
			return fmt.Errorf("arp notes: missing note list")
		}
		notes, err := parseNoteList(command[1])
		if err != nil {
			return err
		}
		e.arp.SetNotes(notes)
	default:
		return fmt.Errorf("unknown arp action %v", command[0])
	}
	return nil
}

func (e *Engine) updateSeq(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("seq: missing action")
	}
	switch command[0] {
	case "start":
		e.seq.Start()
	case "pause":
		e.seq.Pause()
	case "stop":
		e.seq.Stop()
	default:
		return fmt.Errorf("unknown seq action %v", command[0])
	}
	return nil
}

func (e *Engine) updatePreset(command []string) error {
	if len(command) != 2 {
		return fmt.Errorf("preset: want action and name")
	}
	switch command[0] {
	case "load":
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.presets.applyToParams(command[1], e.params); err != nil {
			return err
		}
		e.applyVoiceParamsLocked()
		e.applyRouterParamsLocked()
		e.applyArpParamsLocked()
		e.applySeqParamsLocked()
		e.Changes.Add("data")
	case "save":
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.presets.save(command[1], e.params)
	default:
		return fmt.Errorf("unknown preset action %v", command[0])
	}
	return nil
}

func parseNoteList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	notes := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return nil, err
		}
		notes = append(notes, clampInt(int(n), 0, 127))
	}
	return notes, nil
}

// ----- JSON ----- //

type engineJSON struct {
	Params json.RawMessage `json:"params"`
}

func (e *Engine) ApplyJSON(data []byte) {
	e.mu.Lock()
	var j engineJSON
	err := json.Unmarshal(data, &j)
	if err != nil {
		e.mu.Unlock()
		log.Println("failed to apply JSON to Engine", err)
		return
	}
	e.params.applyJSON(j.Params)
	e.mu.Unlock()
	e.applyParams()
}

func (e *Engine) ToJSON() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	bytes, err := json.Marshal(&engineJSON{Params: e.params.toJSON()})
	if err != nil {
		panic(err)
	}
	return bytes
}

// ----- Status ----- //

// Status is what the report loop pushes to the control surface.
type Status struct {
	ActiveVoices int
	ArpPlaying   bool
	ArpCursor    int
	SeqPlaying   bool
	SeqCursor    int
}

func (e *Engine) GetStatus() Status {
	return Status{
		ActiveVoices: e.vm.ActiveVoiceCount(),
		ArpPlaying:   e.arp.Playing(),
		ArpCursor:    e.arp.Cursor(),
		SeqPlaying:   e.seq.Playing(),
		SeqCursor:    e.seq.Cursor(),
	}
}

// ----- MIDI ----- //

// AddMidiEvent feeds one raw MIDI message into the voice manager.
func (e *Engine) AddMidiEvent(data []byte) {
	if len(data) < 3 {
		return
	}
	if data[0]>>4 == 8 || data[0]>>4 == 9 && data[2] == 0 {
		e.vm.NoteOff(int(data[1]))
		e.Changes.Add("voices")
	} else if data[0]>>4 == 9 && data[2] > 0 {
		note := int(data[1])
		e.vm.NoteOn(note, noteToFreq(note), float64(data[2])/127.0)
		e.Changes.Add("voices")
	}
}

// ----- Audio Out ----- //

func (e *Engine) Read(buf []byte) (int, error) {
	select {
	case <-e.ctx.Done():
		log.Println("Read() interrupted.")
		return 0, io.EOF
	default:
		bufSamples := len(buf) / bytesPerSample
		if bufSamples > len(e.outL) {
			bufSamples = len(e.outL)
		}
		outL := e.outL[:bufSamples]
		outR := e.outR[:bufSamples]
		e.graph.render(outL, outR)
		for i := 0; i < bufSamples; i++ {
			writeSample(buf, i, 0, outL[i]*voiceGain)
			writeSample(buf, i, 1, outR[i]*voiceGain)
		}
		return bufSamples * bytesPerSample, nil
	}
}

func writeSample(buf []byte, i int, ch int, value float64) {
	const max = 32767
	v := clampFloat(value, -1, 1)
	b := int16(v * max)
	buf[bytesPerSample*i+2*ch] = byte(b)
	buf[bytesPerSample*i+2*ch+1] = byte(b >> 8)
}

// Start blocks, copying rendered audio to the player until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	p := e.otoContext.NewPlayer()
	defer func() {
		if err := p.Close(); err != nil {
			log.Printf("error: %v", err)
		}
	}()
	e.ctx = ctx

	if _, err := io.CopyBuffer(p, e, make([]byte, bufferSizeInBytes)); err != nil {
		return err
	}
	log.Println("Start() ended.")
	return nil
}

func (e *Engine) Close() error {
	log.Println("Closing Engine...")
	e.arp.Stop()
	e.seq.Stop()
	e.router.Stop()
	e.vm.ReleaseAll()
	close(e.CommandCh)
	if e.otoContext != nil {
		return e.otoContext.Close()
	}
	return nil
}
