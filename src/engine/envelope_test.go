package engine

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func expectFloat(t *testing.T, got, want, tolerance float64) {
	t.Helper()
	if math.Abs(got-want) > tolerance {
		t.Errorf("expected %v, but got: %v", want, got)
	}
}

func TestEnvelopePhases(t *testing.T) {
	mock := clock.NewMock()
	env := NewEnvelope(mock, newRampValue(mock, 0))
	env.SetSettings(1, 1, 0.5, 1)

	if env.Phase() != phaseIdle {
		t.Errorf("expected idle, but got: %v", phaseToString(env.Phase()))
	}
	env.Trigger(1)
	if env.Phase() != phaseAttack {
		t.Errorf("expected attack, but got: %v", phaseToString(env.Phase()))
	}
	mock.Add(500 * time.Millisecond)
	expectFloat(t, env.Level(), 0.5, 1e-9)
	mock.Add(500 * time.Millisecond)
	if env.Phase() != phaseDecay {
		t.Errorf("expected decay, but got: %v", phaseToString(env.Phase()))
	}
	expectFloat(t, env.Level(), 1, 1e-9)
	mock.Add(1 * time.Second)
	if env.Phase() != phaseSustain {
		t.Errorf("expected sustain, but got: %v", phaseToString(env.Phase()))
	}
	expectFloat(t, env.Level(), 0.5, 1e-9)
	mock.Add(10 * time.Second)
	expectFloat(t, env.Level(), 0.5, 1e-9)

	env.TriggerRelease()
	if env.Phase() != phaseRelease {
		t.Errorf("expected release, but got: %v", phaseToString(env.Phase()))
	}
	mock.Add(500 * time.Millisecond)
	expectFloat(t, env.Level(), 0.25, 1e-9)
	mock.Add(500 * time.Millisecond)
	if env.Phase() != phaseIdle {
		t.Errorf("expected idle, but got: %v", phaseToString(env.Phase()))
	}
	expectFloat(t, env.Level(), 0, 1e-9)
}

func TestEnvelopeRetriggerContinuity(t *testing.T) {
	mock := clock.NewMock()
	env := NewEnvelope(mock, newRampValue(mock, 0))
	env.SetSettings(1, 1, 0.5, 1)

	env.Trigger(1)
	mock.Add(500 * time.Millisecond)
	before := env.Level()
	env.Trigger(0.8)
	expectFloat(t, env.Level(), before, 1e-9)

	// new attack ramps from 0.5 to the new peak over a full attack interval
	mock.Add(1 * time.Second)
	if env.Phase() != phaseDecay {
		t.Errorf("expected decay, but got: %v", phaseToString(env.Phase()))
	}
	expectFloat(t, env.Level(), 0.8, 1e-9)
	mock.Add(1 * time.Second)
	expectFloat(t, env.Level(), 0.4, 1e-9)
}

func TestEnvelopeRetriggerDuringRelease(t *testing.T) {
	mock := clock.NewMock()
	env := NewEnvelope(mock, newRampValue(mock, 0))
	env.SetSettings(1, 1, 0.5, 1)

	env.Trigger(1)
	mock.Add(2 * time.Second)
	env.TriggerRelease()
	mock.Add(500 * time.Millisecond)
	before := env.Level()
	env.Trigger(1)
	expectFloat(t, env.Level(), before, 1e-9)
	if env.Phase() != phaseAttack {
		t.Errorf("expected attack, but got: %v", phaseToString(env.Phase()))
	}
	// the cancelled release must not pull the level to zero later
	mock.Add(400 * time.Millisecond)
	if env.Phase() != phaseAttack {
		t.Errorf("expected attack, but got: %v", phaseToString(env.Phase()))
	}
	if env.Level() <= before {
		t.Errorf("expected level above %v, but got: %v", before, env.Level())
	}
}

func TestEnvelopeReleaseWhenIdleIsNoop(t *testing.T) {
	mock := clock.NewMock()
	env := NewEnvelope(mock, newRampValue(mock, 0))
	env.TriggerRelease()
	if env.Phase() != phaseIdle {
		t.Errorf("expected idle, but got: %v", phaseToString(env.Phase()))
	}
	expectFloat(t, env.Level(), 0, 1e-9)
}

func TestEnvelopeZeroAttack(t *testing.T) {
	mock := clock.NewMock()
	env := NewEnvelope(mock, newRampValue(mock, 0))
	env.SetSettings(0, 1, 0.5, 1)
	env.Trigger(1)
	expectFloat(t, env.Level(), 1, 1e-9)
	mock.Add(time.Millisecond)
	if env.Phase() != phaseDecay {
		t.Errorf("expected decay, but got: %v", phaseToString(env.Phase()))
	}
}

func TestEnvelopeSettingsApplyToNextRamp(t *testing.T) {
	mock := clock.NewMock()
	env := NewEnvelope(mock, newRampValue(mock, 0))
	env.SetSettings(1, 1, 0.5, 1)
	env.Trigger(1)
	mock.Add(500 * time.Millisecond)
	// the attack in flight keeps its captured duration
	env.SetSettings(10, 1, 0.5, 1)
	mock.Add(500 * time.Millisecond)
	if env.Phase() != phaseDecay {
		t.Errorf("expected decay, but got: %v", phaseToString(env.Phase()))
	}
	expectFloat(t, env.Level(), 1, 1e-9)
}

func TestEnvelopeSettingsClamped(t *testing.T) {
	mock := clock.NewMock()
	env := NewEnvelope(mock, newRampValue(mock, 0))
	env.SetSettings(-1, -1, 2, -1)
	env.Trigger(1)
	expectFloat(t, env.Level(), 1, 1e-9)
	mock.Add(time.Millisecond)
	// sustain clamped to 1, decay clamped to 0
	if env.Phase() != phaseSustain {
		t.Errorf("expected sustain, but got: %v", phaseToString(env.Phase()))
	}
	expectFloat(t, env.Level(), 1, 1e-9)
}
