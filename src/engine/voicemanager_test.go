package engine

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestVoiceManager(mock *clock.Mock) (*VoiceManager, *Graph, *ModRouter) {
	graph := NewGraph(mock)
	router := NewModRouter(mock)
	return NewVoiceManager(mock, graph, router), graph, router
}

func TestVoiceManagerNoteLifecycle(t *testing.T) {
	mock := clock.NewMock()
	vm, _, _ := newTestVoiceManager(mock)

	vm.NoteOn(60, noteToFreq(60), 1)
	if vm.ActiveVoiceCount() != 1 {
		t.Fatalf("expected 1 voice, but got: %v", vm.ActiveVoiceCount())
	}
	if !vm.NoteOff(60) {
		t.Errorf("expected note-off to find the voice")
	}
	// releasing keeps the voice sounding until the tail runs out
	if vm.ActiveVoiceCount() != 1 {
		t.Errorf("expected 1 voice during release, but got: %v", vm.ActiveVoiceCount())
	}
	mock.Add(300 * time.Millisecond)
	if vm.ActiveVoiceCount() != 0 {
		t.Errorf("expected 0 voices, but got: %v", vm.ActiveVoiceCount())
	}
}

func TestVoiceManagerNoteOffUnknownNote(t *testing.T) {
	mock := clock.NewMock()
	vm, _, _ := newTestVoiceManager(mock)
	if vm.NoteOff(60) {
		t.Errorf("expected false for an unknown note")
	}
	vm.NoteOn(60, noteToFreq(60), 1)
	vm.NoteOff(60)
	// a double note-off from a racing control surface reports false
	if vm.NoteOff(60) {
		t.Errorf("expected false for a second note-off")
	}
}

func TestVoiceManagerDoubleNoteOffKeepsTeardownDeadline(t *testing.T) {
	mock := clock.NewMock()
	vm, _, _ := newTestVoiceManager(mock)

	vm.NoteOn(60, noteToFreq(60), 1)
	vm.NoteOff(60)
	mock.Add(200 * time.Millisecond)
	// the repeated note-off must not re-arm the teardown timer
	if vm.NoteOff(60) {
		t.Errorf("expected false for a second note-off")
	}
	mock.Add(100 * time.Millisecond)
	if vm.ActiveVoiceCount() != 0 {
		t.Errorf("expected teardown at the original deadline, but got %v voices", vm.ActiveVoiceCount())
	}
}

func TestVoiceManagerStealsOldest(t *testing.T) {
	mock := clock.NewMock()
	vm, _, _ := newTestVoiceManager(mock)
	vm.SetPolyphony(2)

	vm.NoteOn(60, noteToFreq(60), 1)
	vm.NoteOn(62, noteToFreq(62), 1)
	vm.NoteOn(64, noteToFreq(64), 1)
	if vm.ActiveVoiceCount() != 2 {
		t.Fatalf("expected 2 voices, but got: %v", vm.ActiveVoiceCount())
	}
	if vm.voiceFor(60) != nil {
		t.Errorf("expected the oldest voice stolen")
	}
	if vm.voiceFor(62) == nil || vm.voiceFor(64) == nil {
		t.Errorf("expected the newer voices to survive")
	}
}

func TestVoiceManagerLowerPolyphonySheds(t *testing.T) {
	mock := clock.NewMock()
	vm, _, _ := newTestVoiceManager(mock)
	for n := 60; n < 66; n++ {
		vm.NoteOn(n, noteToFreq(n), 1)
	}
	vm.SetPolyphony(3)
	if vm.ActiveVoiceCount() != 3 {
		t.Errorf("expected 3 voices, but got: %v", vm.ActiveVoiceCount())
	}
	// the oldest three were shed
	for n := 60; n < 63; n++ {
		if vm.voiceFor(n) != nil {
			t.Errorf("expected note %v stolen", n)
		}
	}
}

func TestVoiceManagerRetriggerReplacesVoice(t *testing.T) {
	mock := clock.NewMock()
	vm, _, _ := newTestVoiceManager(mock)

	vm.NoteOn(60, noteToFreq(60), 1)
	first := vm.voiceFor(60)
	vm.NoteOn(60, noteToFreq(60), 1)
	if vm.ActiveVoiceCount() != 1 {
		t.Errorf("expected 1 voice, but got: %v", vm.ActiveVoiceCount())
	}
	second := vm.voiceFor(60)
	if second == nil || second == first {
		t.Errorf("expected a fresh voice for the retriggered note")
	}
	if first.active {
		t.Errorf("expected the replaced voice torn down")
	}
}

func TestVoiceManagerRetriggerCancelsTeardown(t *testing.T) {
	mock := clock.NewMock()
	vm, _, _ := newTestVoiceManager(mock)

	vm.NoteOn(60, noteToFreq(60), 1)
	vm.NoteOff(60)
	mock.Add(100 * time.Millisecond)
	vm.NoteOn(60, noteToFreq(60), 1)
	// the first voice's pending teardown must not take the new voice down
	mock.Add(time.Second)
	if vm.ActiveVoiceCount() != 1 {
		t.Errorf("expected 1 voice, but got: %v", vm.ActiveVoiceCount())
	}
	v := vm.voiceFor(60)
	if v == nil || !v.active {
		t.Errorf("expected the retriggered voice to keep sounding")
	}
}

func TestVoiceManagerReleaseAll(t *testing.T) {
	mock := clock.NewMock()
	vm, _, _ := newTestVoiceManager(mock)
	for n := 60; n < 64; n++ {
		vm.NoteOn(n, noteToFreq(n), 1)
	}
	vm.ReleaseAll()
	mock.Add(300 * time.Millisecond)
	if vm.ActiveVoiceCount() != 0 {
		t.Errorf("expected 0 voices, but got: %v", vm.ActiveVoiceCount())
	}
}

func TestVoiceManagerSurvivesClosedGraph(t *testing.T) {
	mock := clock.NewMock()
	vm, graph, _ := newTestVoiceManager(mock)
	graph.Close()

	// connects fail, bookkeeping must still work
	vm.NoteOn(60, noteToFreq(60), 1)
	if vm.ActiveVoiceCount() != 1 {
		t.Fatalf("expected 1 voice, but got: %v", vm.ActiveVoiceCount())
	}
	if !vm.NoteOff(60) {
		t.Errorf("expected note-off to find the voice")
	}
	mock.Add(300 * time.Millisecond)
	if vm.ActiveVoiceCount() != 0 {
		t.Errorf("expected 0 voices, but got: %v", vm.ActiveVoiceCount())
	}
}

func TestVoiceManagerTriggeredRouterFollowsVoices(t *testing.T) {
	mock := clock.NewMock()
	vm, _, router := newTestVoiceManager(mock)
	vm.setModConfig(modConfig{enabled: true, mode: routerModeTriggered, volumeAmount: 0.5})

	vm.NoteOn(60, noteToFreq(60), 1)
	if !router.Running() {
		t.Errorf("expected the router started on the first note")
	}
	if router.TargetCount() != 1 {
		t.Errorf("expected 1 target, but got: %v", router.TargetCount())
	}
	vm.NoteOn(64, noteToFreq(64), 1)
	if router.TargetCount() != 2 {
		t.Errorf("expected 2 targets, but got: %v", router.TargetCount())
	}

	vm.NoteOff(60)
	vm.NoteOff(64)
	mock.Add(300 * time.Millisecond)
	if router.Running() {
		t.Errorf("expected the router stopped after the last teardown")
	}
	if router.TargetCount() != 0 {
		t.Errorf("expected 0 targets, but got: %v", router.TargetCount())
	}
}

func TestVoiceManagerPitchModulation(t *testing.T) {
	mock := clock.NewMock()
	vm, _, router := newTestVoiceManager(mock)
	vm.setModConfig(modConfig{enabled: true, mode: routerModeFree, pitchAmount: 12})
	router.SetFreq(1)
	router.Start()

	freq := noteToFreq(69)
	vm.NoteOn(69, freq, 1)
	v := vm.voiceFor(69)
	if v == nil {
		t.Fatalf("expected a voice")
	}
	pitch := v.chains[0].gen.PitchControl()
	// sine starts at zero, so the pitch sits at its baseline
	expectFloat(t, pitch.Value(), freq, 1e-6)

	// a quarter cycle later the sine peaks and the pitch reads one octave up
	mock.Add(250 * time.Millisecond)
	expectFloat(t, pitch.Value(), freq*2, 1e-3)
}

func TestVoiceManagerADSRPushedToLiveVoices(t *testing.T) {
	mock := clock.NewMock()
	vm, _, _ := newTestVoiceManager(mock)
	vm.NoteOn(60, noteToFreq(60), 1)
	vm.setADSR(adsrSettings{attack: 0.01, decay: 0.1, sustain: 0.7, release: 2})
	v := vm.voiceFor(60)
	if got := v.maxReleaseTime(); got != 2*time.Second {
		t.Errorf("expected 2s release, but got: %v", got)
	}
}

func TestVoiceDisabledSlotsHaveNoChain(t *testing.T) {
	mock := clock.NewMock()
	vm, _, _ := newTestVoiceManager(mock)
	vm.NoteOn(60, noteToFreq(60), 1)
	v := vm.voiceFor(60)
	// only the first default slot is enabled
	if len(v.chains) != 1 {
		t.Errorf("expected 1 chain, but got: %v", len(v.chains))
	}
}

func TestVoiceFMRouting(t *testing.T) {
	mock := clock.NewMock()
	graph := NewGraph(mock)
	vm := NewVoiceManager(mock, graph, NewModRouter(mock))
	slots := defaultSlots()
	slots[0].fmTarget = 1
	slots[1].enabled = true
	vm.setSlots(slots)

	vm.NoteOn(60, noteToFreq(60), 1)
	v := vm.voiceFor(60)
	if len(v.chains) != 2 {
		t.Fatalf("expected 2 chains, but got: %v", len(v.chains))
	}
	if !v.chainForSlot(0).fmRouted {
		t.Errorf("expected slot 0 routed into slot 1's pitch")
	}
	if v.chainForSlot(1).fmRouted {
		t.Errorf("expected slot 1 on the mix bus")
	}
	// the modulator does not reach the mix bus directly
	if len(graph.mix.pans) != 1 {
		t.Errorf("expected 1 pan on the mix bus, but got: %v", len(graph.mix.pans))
	}
}

func TestVoiceFMCycleRefused(t *testing.T) {
	mock := clock.NewMock()
	graph := NewGraph(mock)
	vm := NewVoiceManager(mock, graph, NewModRouter(mock))
	slots := defaultSlots()
	slots[0].fmTarget = 1
	slots[1].enabled = true
	slots[1].fmTarget = 0
	vm.setSlots(slots)

	vm.NoteOn(60, noteToFreq(60), 1)
	v := vm.voiceFor(60)
	// two slots modulating each other fall back to the mix bus
	if v.chainForSlot(0).fmRouted || v.chainForSlot(1).fmRouted {
		t.Errorf("expected no fm routing for a mutual pair")
	}
	if len(graph.mix.pans) != 2 {
		t.Errorf("expected 2 pans on the mix bus, but got: %v", len(graph.mix.pans))
	}
}

func TestSlotFrequencyOffsets(t *testing.T) {
	s := slotConfig{octave: 1, coarse: 0, fine: 0}
	expectFloat(t, s.freqFor(440), 880, 1e-9)
	s = slotConfig{octave: 0, coarse: 12, fine: 0}
	expectFloat(t, s.freqFor(440), 880, 1e-9)
	s = slotConfig{octave: 0, coarse: 0, fine: 1200}
	// fine is cents
	expectFloat(t, s.freqFor(440), 880, 1e-9)
	s = slotConfig{octave: -1, coarse: 0, fine: 0}
	expectFloat(t, s.freqFor(440), 220, 1e-9)
}
