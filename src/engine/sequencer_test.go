package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestSequencer(mock *clock.Mock, stepCount int) (*Sequencer, *VoiceManager) {
	vm := NewVoiceManager(mock, NewGraph(mock), NewModRouter(mock))
	seq := NewSequencer(mock, vm)
	seq.SetStepCount(stepCount)
	seq.SetTempo(120) // 125ms per 16th
	return seq, vm
}

func collectSteps(seq *Sequencer) *[]int {
	indexes := &[]int{}
	seq.SetCallback(func(index int, step SeqStep) {
		*indexes = append(*indexes, index)
	})
	return indexes
}

func TestSequencerForward(t *testing.T) {
	mock := clock.NewMock()
	seq, _ := newTestSequencer(mock, 4)
	indexes := collectSteps(seq)

	seq.Start()
	for i := 0; i < 4; i++ {
		mock.Add(125 * time.Millisecond)
	}
	if want := []int{0, 1, 2, 3, 0}; !reflect.DeepEqual(*indexes, want) {
		t.Errorf("expected %v, but got: %v", want, *indexes)
	}
}

func TestSequencerReverse(t *testing.T) {
	mock := clock.NewMock()
	seq, _ := newTestSequencer(mock, 4)
	seq.SetPlaybackMode("reverse")
	indexes := collectSteps(seq)

	seq.Start()
	for i := 0; i < 4; i++ {
		mock.Add(125 * time.Millisecond)
	}
	if want := []int{0, 3, 2, 1, 0}; !reflect.DeepEqual(*indexes, want) {
		t.Errorf("expected %v, but got: %v", want, *indexes)
	}
}

func TestSequencerPingPong(t *testing.T) {
	mock := clock.NewMock()
	seq, _ := newTestSequencer(mock, 4)
	seq.SetPlaybackMode("ping-pong")
	indexes := collectSteps(seq)

	seq.Start()
	for i := 0; i < 7; i++ {
		mock.Add(125 * time.Millisecond)
	}
	// boundary steps are not repeated at the turn-around
	if want := []int{0, 1, 2, 3, 2, 1, 0, 1}; !reflect.DeepEqual(*indexes, want) {
		t.Errorf("expected %v, but got: %v", want, *indexes)
	}
}

func TestSequencerRandomStaysInRange(t *testing.T) {
	mock := clock.NewMock()
	seq, _ := newTestSequencer(mock, 8)
	seq.SetPlaybackMode("random")
	indexes := collectSteps(seq)

	seq.Start()
	for i := 0; i < 40; i++ {
		mock.Add(125 * time.Millisecond)
	}
	for _, index := range *indexes {
		if index < 0 || index >= 8 {
			t.Errorf("expected index in 0..7, but got: %v", index)
		}
	}
}

func TestSequencerPauseAndStop(t *testing.T) {
	mock := clock.NewMock()
	seq, _ := newTestSequencer(mock, 4)
	indexes := collectSteps(seq)

	seq.Start()
	mock.Add(125 * time.Millisecond)
	seq.Pause()
	if seq.Playing() {
		t.Errorf("expected paused")
	}
	fired := len(*indexes)
	mock.Add(time.Second)
	if len(*indexes) != fired {
		t.Errorf("expected no steps while paused, but got: %v", *indexes)
	}
	if seq.Cursor() != 1 {
		t.Errorf("expected cursor 1, but got: %v", seq.Cursor())
	}

	// resume advances from the held cursor
	seq.Start()
	if got := (*indexes)[len(*indexes)-1]; got != 2 {
		t.Errorf("expected step 2 after resume, but got: %v", got)
	}

	seq.Stop()
	if seq.Playing() || seq.Cursor() != 0 {
		t.Errorf("expected stopped at step 0")
	}
	// restarting after stop plays step 0 again
	seq.Start()
	if got := (*indexes)[len(*indexes)-1]; got != 0 {
		t.Errorf("expected step 0 after restart, but got: %v", got)
	}
	seq.Stop()
}

func TestSequencerStepCountSnapsAndPreserves(t *testing.T) {
	mock := clock.NewMock()
	seq, _ := newTestSequencer(mock, 16)

	if !seq.SetStep(3, SeqStep{Pitch: 72, Velocity: 90, Gate: true, GateLength: 0.8}) {
		t.Fatalf("expected SetStep to succeed")
	}
	seq.SetStepCount(30) // snaps to 32
	if seq.StepCount() != 32 {
		t.Errorf("expected 32 steps, but got: %v", seq.StepCount())
	}
	step, ok := seq.Step(3)
	if !ok || step.Pitch != 72 || !step.Gate {
		t.Errorf("expected step 3 preserved, but got: %+v", step)
	}
	step, ok = seq.Step(31)
	if !ok || !reflect.DeepEqual(step, defaultStep()) {
		t.Errorf("expected default step, but got: %+v", step)
	}

	seq.SetStepCount(5) // snaps to 4
	if seq.StepCount() != 4 {
		t.Errorf("expected 4 steps, but got: %v", seq.StepCount())
	}
	step, _ = seq.Step(3)
	if step.Pitch != 72 {
		t.Errorf("expected step 3 preserved, but got: %+v", step)
	}
}

func TestSequencerSetStepValidation(t *testing.T) {
	mock := clock.NewMock()
	seq, _ := newTestSequencer(mock, 4)

	if seq.SetStep(4, defaultStep()) {
		t.Errorf("expected false for an out-of-range index")
	}
	if seq.SetStep(-1, defaultStep()) {
		t.Errorf("expected false for a negative index")
	}
	seq.SetStep(0, SeqStep{Pitch: 300, Velocity: 0, Gate: true, GateLength: 2})
	step, _ := seq.Step(0)
	if step.Pitch != 127 || step.Velocity != 1 || step.GateLength != 1 {
		t.Errorf("expected clamped step, but got: %+v", step)
	}
}

func TestSequencerGatedStepsSound(t *testing.T) {
	mock := clock.NewMock()
	seq, vm := newTestSequencer(mock, 4)
	seq.SetStep(0, SeqStep{Pitch: 60, Velocity: 100, Gate: true, GateLength: 0.5})

	seq.Start()
	if vm.ActiveVoiceCount() != 1 {
		t.Fatalf("expected 1 voice, but got: %v", vm.ActiveVoiceCount())
	}
	if vm.voiceFor(60) == nil {
		t.Errorf("expected a voice on note 60")
	}
	seq.Pause()
	// gate off at half the step, then release and the teardown guard
	mock.Add(time.Second)
	if vm.ActiveVoiceCount() != 0 {
		t.Errorf("expected 0 voices, but got: %v", vm.ActiveVoiceCount())
	}
}

func TestSequencerSilentStepsStillReport(t *testing.T) {
	mock := clock.NewMock()
	seq, vm := newTestSequencer(mock, 4)
	indexes := collectSteps(seq)

	seq.Start()
	mock.Add(125 * time.Millisecond)
	if len(*indexes) != 2 {
		t.Errorf("expected 2 reports, but got: %v", len(*indexes))
	}
	if vm.ActiveVoiceCount() != 0 {
		t.Errorf("expected silence, but got %v voices", vm.ActiveVoiceCount())
	}
	seq.Stop()
}

func TestSequencerSwing(t *testing.T) {
	mock := clock.NewMock()
	seq, _ := newTestSequencer(mock, 4)
	seq.SetTempo(150) // 100ms per 16th
	seq.SetSwing(1)   // odd ticks stretched to 150ms
	indexes := collectSteps(seq)

	seq.Start()
	mock.Add(100 * time.Millisecond)
	if len(*indexes) != 2 {
		t.Fatalf("expected 2 steps, but got: %v", len(*indexes))
	}
	mock.Add(100 * time.Millisecond)
	if len(*indexes) != 2 {
		t.Errorf("expected the swung step to still be pending, but got: %v", len(*indexes))
	}
	mock.Add(50 * time.Millisecond)
	if len(*indexes) != 3 {
		t.Errorf("expected 3 steps, but got: %v", len(*indexes))
	}
	seq.Stop()
}

func TestSequencerStopResetsSwingParity(t *testing.T) {
	mock := clock.NewMock()
	seq, _ := newTestSequencer(mock, 4)
	seq.SetTempo(150) // 100ms per 16th
	seq.SetSwing(1)
	indexes := collectSteps(seq)

	seq.Start()
	seq.Stop()
	// the restart begins on an even tick, so no swing stretch
	seq.Start()
	if len(*indexes) != 2 {
		t.Fatalf("expected 2 steps, but got: %v", len(*indexes))
	}
	mock.Add(100 * time.Millisecond)
	if len(*indexes) != 3 {
		t.Errorf("expected the restarted step 0 to last 100ms, but got: %v steps", len(*indexes))
	}
	seq.Stop()
}
