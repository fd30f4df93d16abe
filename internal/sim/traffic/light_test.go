package traffic

import (
	"errors"
	"testing"
	"time"
)

func TestTrafficLight_CycleSequence(t *testing.T) {
	l, err := NewTrafficLight(1, Durations{Red: 10 * time.Second, Yellow: 2 * time.Second, Green: 8 * time.Second})
	if err != nil {
		t.Fatalf("new light: %v", err)
	}

	var seq []Phase
	for i := 0; i < 20; i++ {
		seq = append(seq, l.Phase())
		l.Advance(time.Second)
	}
	want := make([]Phase, 0, 20)
	for i := 0; i < 10; i++ {
		want = append(want, Red)
	}
	for i := 0; i < 8; i++ {
		want = append(want, Green)
	}
	want = append(want, Yellow, Yellow)
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("tick %d: got %s want %s (seq=%v)", i+1, seq[i], want[i], seq)
		}
	}
	if l.Phase() != Red {
		t.Fatalf("tick 21 should start red, got %s", l.Phase())
	}
	if l.Cycles() != 1 {
		t.Fatalf("expected 1 cycle, got %d", l.Cycles())
	}
}

func TestTrafficLight_OneTransitionPerAdvance(t *testing.T) {
	l, err := NewTrafficLight(1, DefaultDurations)
	if err != nil {
		t.Fatalf("new light: %v", err)
	}
	if !l.Advance(time.Hour) {
		t.Fatalf("expected a transition")
	}
	if l.Phase() != Green || l.PhaseElapsed() != 0 {
		t.Fatalf("expected fresh green, got %s elapsed=%s", l.Phase(), l.PhaseElapsed())
	}
}

func TestTrafficLight_RedWaitsForGrant(t *testing.T) {
	l, err := NewTrafficLight(1, DefaultDurations)
	if err != nil {
		t.Fatalf("new light: %v", err)
	}
	l.accumulate(DefaultDurations.Red + time.Second)
	if l.step(false) {
		t.Fatalf("red must not turn green without a grant")
	}
	if l.Phase() != Red || l.waiting() != time.Second {
		t.Fatalf("expected red waiting 1s, got %s waiting=%s", l.Phase(), l.waiting())
	}
	if !l.step(true) || l.Phase() != Green {
		t.Fatalf("expected green after grant, got %s", l.Phase())
	}
	if l.waiting() >= 0 {
		t.Fatalf("green light must not report waiting")
	}
}

func TestTrafficLight_RejectsNonPositiveDurations(t *testing.T) {
	for _, d := range []Durations{
		{Red: 0, Yellow: time.Second, Green: time.Second},
		{Red: time.Second, Yellow: -time.Second, Green: time.Second},
		{Red: time.Second, Yellow: time.Second},
	} {
		_, err := NewTrafficLight(1, d)
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("durations %+v: expected ConfigError, got %v", d, err)
		}
	}
}

func TestTrafficLight_ForceKeepsCounting(t *testing.T) {
	l, err := NewTrafficLight(1, DefaultDurations)
	if err != nil {
		t.Fatalf("new light: %v", err)
	}

	if !l.force(Green) {
		t.Fatalf("expected force to change red to green")
	}
	for i := 0; i < 30; i++ {
		l.accumulate(time.Second)
		if l.step(true) {
			t.Fatalf("forced light moved on step %d", i)
		}
	}
	if l.Phase() != Green || l.PhaseElapsed() != 30*time.Second || !l.Overridden() {
		t.Fatalf("unexpected held light: %s elapsed=%s overridden=%t", l.Phase(), l.PhaseElapsed(), l.Overridden())
	}
	if l.Remaining() != 0 {
		t.Fatalf("held light should report no remaining time, got %s", l.Remaining())
	}

	if !l.release() {
		t.Fatalf("expected release to change phase")
	}
	if l.Phase() != Yellow || l.PhaseElapsed() != 0 || l.Overridden() {
		t.Fatalf("unexpected released light: %s elapsed=%s overridden=%t", l.Phase(), l.PhaseElapsed(), l.Overridden())
	}
}

func TestTrafficLight_ForceRedOverHeldGreen(t *testing.T) {
	l, err := NewTrafficLight(1, DefaultDurations)
	if err != nil {
		t.Fatalf("new light: %v", err)
	}
	l.force(Green)
	if !l.force(Red) || l.Phase() != Red || !l.Overridden() {
		t.Fatalf("expected held red, got %s overridden=%t", l.Phase(), l.Overridden())
	}
	if l.force(Red) {
		t.Fatalf("forcing the held phase again must be a no-op")
	}
}

func TestTrafficLight_ReleaseFromRedStaysRed(t *testing.T) {
	l, err := NewTrafficLight(1, DefaultDurations)
	if err != nil {
		t.Fatalf("new light: %v", err)
	}
	l.accumulate(3 * time.Second)

	if l.force(Red) {
		t.Fatalf("forcing red on a red light is not a phase change")
	}
	l.accumulate(4 * time.Second)
	if l.release() {
		t.Fatalf("releasing a held red is not a phase change")
	}
	if l.Phase() != Red || l.PhaseElapsed() != 7*time.Second || l.Overridden() {
		t.Fatalf("unexpected light: %s elapsed=%s overridden=%t", l.Phase(), l.PhaseElapsed(), l.Overridden())
	}
	if l.release() {
		t.Fatalf("release without an override must be a no-op")
	}
}

func TestPhaseString(t *testing.T) {
	for p, want := range map[Phase]string{Red: "RED", Yellow: "YELLOW", Green: "GREEN", Phase(7): "Phase(7)"} {
		if got := p.String(); got != want {
			t.Fatalf("Phase(%d).String() = %q want %q", uint8(p), got, want)
		}
	}
}
