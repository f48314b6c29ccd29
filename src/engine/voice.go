package engine

import (
	"log"
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

// ----- Slot Config ----- //

// slotConfig describes one generator chain of a voice. fmTarget routes the
// chain's output into another slot's pitch control instead of the mix bus;
// the two routings are mutually exclusive and decided at voice construction.
type slotConfig struct {
	enabled  bool
	kind     int
	octave   int     // -2 ~ 2
	coarse   int     // -12 ~ 12 semitones
	fine     int     // -100 ~ 100 cent
	level    float64 // 0 ~ 1
	pan      float64 // -1 ~ 1
	fmTarget int     // slot index, -1 for none
}

func defaultSlots() []slotConfig {
	return []slotConfig{
		{enabled: true, kind: waveSine, level: 1.0, fmTarget: -1},
		{enabled: false, kind: waveSine, level: 1.0, fmTarget: -1},
	}
}

func (s *slotConfig) freqFor(baseFreq float64) float64 {
	return baseFreq * math.Pow(2, float64(s.octave)+float64(s.coarse)/12+float64(s.fine)/1200)
}

// ----- Router Config ----- //

const (
	routerModeFree = iota
	routerModeTriggered
)

func routerModeFromString(s string) int {
	if s == "triggered" {
		return routerModeTriggered
	}
	return routerModeFree
}
func routerModeToString(mode int) string {
	if mode == routerModeTriggered {
		return "triggered"
	}
	return "free"
}

// modConfig is the voice manager's view of the modulation router settings:
// which per-slot parameters to register as targets, and how deep.
type modConfig struct {
	enabled      bool
	mode         int
	pitchAmount  float64 // semitones
	volumeAmount float64 // 0 ~ 1
	panAmount    float64 // 0 ~ 1
}

// ----- Voice ----- //

type chain struct {
	slot     int
	cfg      slotConfig
	freq     float64
	gen      *GenNode
	gain     *GainNode
	pan      *PanNode
	env      *Envelope
	fmRouted bool
}

// Voice is one sounding note: one generator+gain+pan+envelope chain per
// enabled slot. noteIndex identifies the key or pattern slot, not a pitch;
// at most one Voice exists per noteIndex at any time.
type Voice struct {
	id        int64
	noteIndex int
	baseFreq  float64
	chains    []*chain
	active    bool
	teardown  *clock.Timer
}

func newVoice(clk clock.Clock, graph *Graph, id int64, noteIndex int, baseFreq float64, slots []slotConfig, adsr adsrSettings) *Voice {
	v := &Voice{id: id, noteIndex: noteIndex, baseFreq: baseFreq, active: true}
	for i, s := range slots {
		if !s.enabled {
			continue
		}
		gen := graph.NewGenerator(s.kind)
		freq := s.freqFor(baseFreq)
		gen.PitchControl().Set(freq)
		gen.AmplitudeControl().Set(s.level)
		gain := graph.NewGain()
		pan := graph.NewPan()
		pan.PanControl().Set(clampFloat(s.pan, -1, 1))
		env := NewEnvelope(clk, gain.GainControl())
		env.SetSettings(adsr.attack, adsr.decay, adsr.sustain, adsr.release)
		v.chains = append(v.chains, &chain{
			slot: i,
			cfg:  s,
			freq: freq,
			gen:  gen,
			gain: gain,
			pan:  pan,
			env:  env,
		})
	}
	return v
}

func (v *Voice) chainForSlot(slot int) *chain {
	for _, c := range v.chains {
		if c.slot == slot {
			return c
		}
	}
	return nil
}

// connect wires every chain into the graph. A chain whose slot frequency-
// modulates another slot connects to that slot's pitch input; everything else
// goes gen → gain → pan → mix. Connection failures are logged and skipped so
// a broken graph can never block note bookkeeping.
func (v *Voice) connect(graph *Graph) {
	for _, c := range v.chains {
		target := v.chainForSlot(c.cfg.fmTarget)
		// refuse two slots modulating each other
		if target != nil && target != c && target.cfg.fmTarget != c.slot {
			if err := c.gen.Connect(graph.PitchInput(target.gen)); err != nil {
				log.Printf("voice %d slot %d: fm connect failed: %v", v.id, c.slot, err)
				continue
			}
			c.fmRouted = true
			c.gen.Start()
			continue
		}
		if err := c.gen.Connect(c.gain); err != nil {
			log.Printf("voice %d slot %d: connect failed: %v", v.id, c.slot, err)
		}
		if err := c.gain.Connect(c.pan); err != nil {
			log.Printf("voice %d slot %d: connect failed: %v", v.id, c.slot, err)
		}
		if err := c.pan.Connect(graph.MixBus()); err != nil {
			log.Printf("voice %d slot %d: connect failed: %v", v.id, c.slot, err)
		}
		c.gen.Start()
	}
}

// registerModTargets adds one uniquely-keyed target per requested parameter
// per chain. Pitch drives the chain's own pitch control; volume and pan are
// keyed per voice and slot so simultaneous voices never share a depth or
// baseline.
func (v *Voice) registerModTargets(router *ModRouter, mod modConfig) {
	for _, c := range v.chains {
		if mod.pitchAmount != 0 {
			depth := c.freq * (math.Pow(2, mod.pitchAmount/12) - 1)
			router.AddTarget(TargetKey{Voice: v.id, Slot: c.slot, Param: ParamPitch}, c.gen.PitchControl(), depth, c.freq)
		}
		if mod.volumeAmount != 0 {
			router.AddTarget(TargetKey{Voice: v.id, Slot: c.slot, Param: ParamVolume}, c.gen.AmplitudeControl(), mod.volumeAmount*c.cfg.level, c.cfg.level)
		}
		if mod.panAmount != 0 {
			router.AddTarget(TargetKey{Voice: v.id, Slot: c.slot, Param: ParamPan}, c.pan.PanControl(), mod.panAmount, c.cfg.pan)
		}
	}
}

func (v *Voice) trigger(velocity float64) {
	for _, c := range v.chains {
		c.env.Trigger(velocity)
	}
}

func (v *Voice) release() {
	for _, c := range v.chains {
		c.env.TriggerRelease()
	}
}

func (v *Voice) maxReleaseTime() time.Duration {
	max := time.Duration(0)
	for _, c := range v.chains {
		if r := c.env.ReleaseTime(); r > max {
			max = r
		}
	}
	return max
}

// shutdown unregisters modulation targets and tears the chains out of the
// graph. Disconnect failures are logged and the cleanup continues; internal
// state must end up at "nothing sounding" even when the graph refuses.
func (v *Voice) shutdown(router *ModRouter) {
	router.RemoveVoiceTargets(v.id)
	for _, c := range v.chains {
		c.gen.Stop()
		if err := c.gen.Disconnect(); err != nil && err != errNotConnected {
			log.Printf("voice %d slot %d: disconnect failed: %v", v.id, c.slot, err)
		}
		if c.fmRouted {
			continue
		}
		if err := c.gain.Disconnect(); err != nil && err != errNotConnected {
			log.Printf("voice %d slot %d: disconnect failed: %v", v.id, c.slot, err)
		}
		if err := c.pan.Disconnect(); err != nil && err != errNotConnected {
			log.Printf("voice %d slot %d: disconnect failed: %v", v.id, c.slot, err)
		}
	}
}
