package engine

import (
	"encoding/json"
	"log"
	"strconv"
)

// ----- ADSR Params ----- //

type adsrParams struct {
	attack  float64 // sec
	decay   float64 // sec
	sustain float64 // 0-1
	release float64 // sec
}
type adsrJSON struct {
	Attack  float64 `json:"attack"`
	Decay   float64 `json:"decay"`
	Sustain float64 `json:"sustain"`
	Release float64 `json:"release"`
}

func newAdsrParams() *adsrParams {
	return &adsrParams{attack: 0.01, decay: 0.1, sustain: 0.7, release: 0.2}
}
func (a *adsrParams) applyJSON(data json.RawMessage) {
	var j adsrJSON
	err := json.Unmarshal(data, &j)
	if err != nil {
		log.Println("failed to apply JSON to adsrParams")
		return
	}
	a.attack = clampFloat(j.Attack, 0, maxEnvelopeSeconds)
	a.decay = clampFloat(j.Decay, 0, maxEnvelopeSeconds)
	a.sustain = clampFloat(j.Sustain, 0, 1)
	a.release = clampFloat(j.Release, 0, maxEnvelopeSeconds)
}
func (a *adsrParams) toJSON() json.RawMessage {
	return toRawMessage(&adsrJSON{
		Attack:  a.attack,
		Decay:   a.decay,
		Sustain: a.sustain,
		Release: a.release,
	})
}
func (a *adsrParams) set(key string, value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	switch key {
	case "attack":
		a.attack = clampFloat(v, 0, maxEnvelopeSeconds)
	case "decay":
		a.decay = clampFloat(v, 0, maxEnvelopeSeconds)
	case "sustain":
		a.sustain = clampFloat(v, 0, 1)
	case "release":
		a.release = clampFloat(v, 0, maxEnvelopeSeconds)
	}
	return nil
}
func (a *adsrParams) settings() adsrSettings {
	return adsrSettings{attack: a.attack, decay: a.decay, sustain: a.sustain, release: a.release}
}

// ----- Slot Params ----- //

type slotParams struct {
	enabled  bool
	kind     int
	octave   int     // -2 ~ 2
	coarse   int     // -12 ~ 12
	fine     int     // -100 ~ 100 cent
	level    float64 // 0 ~ 1
	pan      float64 // -1 ~ 1
	fmTarget int     // slot index, -1 for none
}
type slotJSON struct {
	Enabled  bool    `json:"enabled"`
	Kind     string  `json:"kind"`
	Octave   int     `json:"octave"`
	Coarse   int     `json:"coarse"`
	Fine     int     `json:"fine"`
	Level    float64 `json:"level"`
	Pan      float64 `json:"pan"`
	FmTarget int     `json:"fmTarget"`
}

func newSlotParams(enabled bool) *slotParams {
	return &slotParams{enabled: enabled, kind: waveSine, level: 1.0, fmTarget: -1}
}
func (s *slotParams) applyJSON(data json.RawMessage) {
	var j slotJSON
	err := json.Unmarshal(data, &j)
	if err != nil {
		log.Println("failed to apply JSON to slotParams")
		return
	}
	s.enabled = j.Enabled
	s.kind = waveKindFromString(j.Kind)
	s.octave = clampInt(j.Octave, -2, 2)
	s.coarse = clampInt(j.Coarse, -12, 12)
	s.fine = clampInt(j.Fine, -100, 100)
	s.level = clampFloat(j.Level, 0, 1)
	s.pan = clampFloat(j.Pan, -1, 1)
	s.fmTarget = j.FmTarget
}
func (s *slotParams) toJSON() json.RawMessage {
	return toRawMessage(&slotJSON{
		Enabled:  s.enabled,
		Kind:     waveKindToString(s.kind),
		Octave:   s.octave,
		Coarse:   s.coarse,
		Fine:     s.fine,
		Level:    s.level,
		Pan:      s.pan,
		FmTarget: s.fmTarget,
	})
}
func (s *slotParams) set(key string, value string) error {
	switch key {
	case "enabled":
		s.enabled = value == "true"
	case "kind":
		s.kind = waveKindFromString(value)
	case "octave", "coarse", "fine", "fm_target":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		switch key {
		case "octave":
			s.octave = clampInt(int(v), -2, 2)
		case "coarse":
			s.coarse = clampInt(int(v), -12, 12)
		case "fine":
			s.fine = clampInt(int(v), -100, 100)
		case "fm_target":
			s.fmTarget = int(v)
		}
	case "level", "pan":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		if key == "level" {
			s.level = clampFloat(v, 0, 1)
		} else {
			s.pan = clampFloat(v, -1, 1)
		}
	}
	return nil
}
func (s *slotParams) config() slotConfig {
	return slotConfig{
		enabled:  s.enabled,
		kind:     s.kind,
		octave:   s.octave,
		coarse:   s.coarse,
		fine:     s.fine,
		level:    s.level,
		pan:      s.pan,
		fmTarget: s.fmTarget,
	}
}

// ----- Router Params ----- //

type routerParams struct {
	enabled      bool
	wave         int
	freq         float64
	mode         int
	pitchAmount  float64 // semitones
	volumeAmount float64 // 0 ~ 1
	panAmount    float64 // 0 ~ 1
}
type routerJSON struct {
	Enabled      bool    `json:"enabled"`
	Wave         string  `json:"wave"`
	Freq         float64 `json:"freq"`
	Mode         string  `json:"mode"`
	PitchAmount  float64 `json:"pitchAmount"`
	VolumeAmount float64 `json:"volumeAmount"`
	PanAmount    float64 `json:"panAmount"`
}

func newRouterParams() *routerParams {
	return &routerParams{wave: waveSine, freq: 1.0, mode: routerModeFree}
}
func (r *routerParams) applyJSON(data json.RawMessage) {
	var j routerJSON
	err := json.Unmarshal(data, &j)
	if err != nil {
		log.Println("failed to apply JSON to routerParams")
		return
	}
	r.enabled = j.Enabled
	r.wave = waveKindFromString(j.Wave)
	r.freq = clampFloat(j.Freq, minLfoFreq, maxLfoFreq)
	r.mode = routerModeFromString(j.Mode)
	r.pitchAmount = clampFloat(j.PitchAmount, -24, 24)
	r.volumeAmount = clampFloat(j.VolumeAmount, 0, 1)
	r.panAmount = clampFloat(j.PanAmount, 0, 1)
}
func (r *routerParams) toJSON() json.RawMessage {
	return toRawMessage(&routerJSON{
		Enabled:      r.enabled,
		Wave:         waveKindToString(r.wave),
		Freq:         r.freq,
		Mode:         routerModeToString(r.mode),
		PitchAmount:  r.pitchAmount,
		VolumeAmount: r.volumeAmount,
		PanAmount:    r.panAmount,
	})
}
func (r *routerParams) set(key string, value string) error {
	switch key {
	case "enabled":
		r.enabled = value == "true"
	case "wave":
		r.wave = waveKindFromString(value)
	case "mode":
		r.mode = routerModeFromString(value)
	case "freq", "pitch_amount", "volume_amount", "pan_amount":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		switch key {
		case "freq":
			r.freq = clampFloat(v, minLfoFreq, maxLfoFreq)
		case "pitch_amount":
			r.pitchAmount = clampFloat(v, -24, 24)
		case "volume_amount":
			r.volumeAmount = clampFloat(v, 0, 1)
		case "pan_amount":
			r.panAmount = clampFloat(v, 0, 1)
		}
	}
	return nil
}
func (r *routerParams) config() modConfig {
	return modConfig{
		enabled:      r.enabled,
		mode:         r.mode,
		pitchAmount:  r.pitchAmount,
		volumeAmount: r.volumeAmount,
		panAmount:    r.panAmount,
	}
}

// ----- Arp Params ----- //

type arpParams struct {
	pattern  int
	octaves  int
	tempo    float64
	division int
	gate     float64
	swing    float64
	humanize float64
	velocity int
}
type arpJSON struct {
	Pattern  string  `json:"pattern"`
	Octaves  int     `json:"octaves"`
	Tempo    float64 `json:"tempo"`
	Division string  `json:"division"`
	Gate     float64 `json:"gate"`
	Swing    float64 `json:"swing"`
	Humanize float64 `json:"humanize"`
	Velocity int     `json:"velocity"`
}

func newArpParams() *arpParams {
	return &arpParams{
		pattern:  patternUp,
		octaves:  1,
		tempo:    120,
		division: divSixteenth,
		gate:     0.5,
		velocity: 100,
	}
}
func (a *arpParams) applyJSON(data json.RawMessage) {
	var j arpJSON
	err := json.Unmarshal(data, &j)
	if err != nil {
		log.Println("failed to apply JSON to arpParams")
		return
	}
	a.pattern = patternFromString(j.Pattern)
	a.octaves = clampInt(j.Octaves, 1, 4)
	a.tempo = clampFloat(j.Tempo, 20, 300)
	a.division = divisionFromString(j.Division)
	a.gate = clampFloat(j.Gate, 0.05, 1)
	a.swing = clampFloat(j.Swing, 0, 1)
	a.humanize = clampFloat(j.Humanize, 0, 1)
	a.velocity = clampInt(j.Velocity, 1, 127)
}
func (a *arpParams) toJSON() json.RawMessage {
	return toRawMessage(&arpJSON{
		Pattern:  patternToString(a.pattern),
		Octaves:  a.octaves,
		Tempo:    a.tempo,
		Division: divisionToString(a.division),
		Gate:     a.gate,
		Swing:    a.swing,
		Humanize: a.humanize,
		Velocity: a.velocity,
	})
}
func (a *arpParams) set(key string, value string) error {
	switch key {
	case "pattern":
		a.pattern = patternFromString(value)
	case "division":
		a.division = divisionFromString(value)
	case "octaves", "velocity":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		if key == "octaves" {
			a.octaves = clampInt(int(v), 1, 4)
		} else {
			a.velocity = clampInt(int(v), 1, 127)
		}
	case "tempo", "gate", "swing", "humanize":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		switch key {
		case "tempo":
			a.tempo = clampFloat(v, 20, 300)
		case "gate":
			a.gate = clampFloat(v, 0.05, 1)
		case "swing":
			a.swing = clampFloat(v, 0, 1)
		case "humanize":
			a.humanize = clampFloat(v, 0, 1)
		}
	}
	return nil
}

// ----- Seq Params ----- //

type seqParams struct {
	steps []SeqStep
	tempo float64
	swing float64
	mode  int
}
type seqStepJSON struct {
	Pitch      int     `json:"pitch"`
	Velocity   int     `json:"velocity"`
	Gate       bool    `json:"gate"`
	GateLength float64 `json:"gateLength"`
}
type seqJSON struct {
	Steps []seqStepJSON `json:"steps"`
	Tempo float64       `json:"tempo"`
	Swing float64       `json:"swing"`
	Mode  string        `json:"mode"`
}

func newSeqParams() *seqParams {
	steps := make([]SeqStep, 16)
	for i := range steps {
		steps[i] = defaultStep()
	}
	return &seqParams{steps: steps, tempo: 120, mode: modeForward}
}
func allowedStepCount(n int) bool {
	for _, allowed := range allowedStepCounts {
		if n == allowed {
			return true
		}
	}
	return false
}
func (s *seqParams) applyJSON(data json.RawMessage) {
	var j seqJSON
	err := json.Unmarshal(data, &j)
	if err != nil {
		log.Println("failed to apply JSON to seqParams")
		return
	}
	if !allowedStepCount(len(j.Steps)) {
		log.Println("failed to apply JSON to seqParams: bad step count")
		return
	}
	steps := make([]SeqStep, len(j.Steps))
	for i, sj := range j.Steps {
		steps[i] = SeqStep{
			Pitch:      clampInt(sj.Pitch, 0, 127),
			Velocity:   clampInt(sj.Velocity, 1, 127),
			Gate:       sj.Gate,
			GateLength: clampFloat(sj.GateLength, 0.05, 1),
		}
	}
	s.steps = steps
	s.tempo = clampFloat(j.Tempo, 20, 300)
	s.swing = clampFloat(j.Swing, 0, 1)
	s.mode = playbackModeFromString(j.Mode)
}
func (s *seqParams) toJSON() json.RawMessage {
	steps := make([]seqStepJSON, len(s.steps))
	for i, step := range s.steps {
		steps[i] = seqStepJSON{
			Pitch:      step.Pitch,
			Velocity:   step.Velocity,
			Gate:       step.Gate,
			GateLength: step.GateLength,
		}
	}
	return toRawMessage(&seqJSON{
		Steps: steps,
		Tempo: s.tempo,
		Swing: s.swing,
		Mode:  playbackModeToString(s.mode),
	})
}
func (s *seqParams) set(key string, value string) error {
	switch key {
	case "mode":
		s.mode = playbackModeFromString(value)
	case "tempo", "swing":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		if key == "tempo" {
			s.tempo = clampFloat(v, 20, 300)
		} else {
			s.swing = clampFloat(v, 0, 1)
		}
	}
	return nil
}

// ----- Params ----- //

type params struct {
	poly   int
	adsr   *adsrParams
	slots  []*slotParams
	router *routerParams
	arp    *arpParams
	seq    *seqParams
}
type paramsJSON struct {
	Poly   int               `json:"poly"`
	Adsr   json.RawMessage   `json:"adsr"`
	Slots  []json.RawMessage `json:"slots"`
	Router json.RawMessage   `json:"router"`
	Arp    json.RawMessage   `json:"arp"`
	Seq    json.RawMessage   `json:"seq"`
}

func newParams() *params {
	return &params{
		poly:   defaultPolyphony,
		adsr:   newAdsrParams(),
		slots:  []*slotParams{newSlotParams(true), newSlotParams(false)},
		router: newRouterParams(),
		arp:    newArpParams(),
		seq:    newSeqParams(),
	}
}
func (p *params) applyJSON(data json.RawMessage) {
	var j paramsJSON
	err := json.Unmarshal(data, &j)
	if err != nil {
		log.Println("failed to apply JSON to params")
		return
	}
	p.poly = clampInt(j.Poly, 1, maxPolyphony)
	p.adsr.applyJSON(j.Adsr)
	if len(j.Slots) == len(p.slots) {
		for i, sj := range j.Slots {
			p.slots[i].applyJSON(sj)
		}
	} else {
		log.Println("failed to apply JSON to slot params")
	}
	p.router.applyJSON(j.Router)
	p.arp.applyJSON(j.Arp)
	p.seq.applyJSON(j.Seq)
}
func (p *params) toJSON() json.RawMessage {
	slotJsons := make([]json.RawMessage, len(p.slots))
	for i, s := range p.slots {
		slotJsons[i] = s.toJSON()
	}
	return toRawMessage(&paramsJSON{
		Poly:   p.poly,
		Adsr:   p.adsr.toJSON(),
		Slots:  slotJsons,
		Router: p.router.toJSON(),
		Arp:    p.arp.toJSON(),
		Seq:    p.seq.toJSON(),
	})
}
func (p *params) slotConfigs() []slotConfig {
	configs := make([]slotConfig, len(p.slots))
	for i, s := range p.slots {
		configs[i] = s.config()
	}
	return configs
}
