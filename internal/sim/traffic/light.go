package traffic

import (
	"fmt"
	"time"

	"github.com/anggasct/fluo"
)

type Phase uint8

const (
	Red Phase = iota
	Yellow
	Green
)

func (p Phase) String() string {
	switch p {
	case Red:
		return "RED"
	case Yellow:
		return "YELLOW"
	case Green:
		return "GREEN"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

type Durations struct {
	Red    time.Duration `json:"red"`
	Yellow time.Duration `json:"yellow"`
	Green  time.Duration `json:"green"`
}

var DefaultDurations = Durations{
	Red:    10 * time.Second,
	Yellow: 2 * time.Second,
	Green:  8 * time.Second,
}

func (d Durations) Validate() error {
	if d.Red <= 0 {
		return &ConfigError{Field: "durations.red", Reason: "must be > 0"}
	}
	if d.Yellow <= 0 {
		return &ConfigError{Field: "durations.yellow", Reason: "must be > 0"}
	}
	if d.Green <= 0 {
		return &ConfigError{Field: "durations.green", Reason: "must be > 0"}
	}
	return nil
}

func (d Durations) of(p Phase) time.Duration {
	switch p {
	case Green:
		return d.Green
	case Yellow:
		return d.Yellow
	default:
		return d.Red
	}
}

// Machine states. The held states are emergency overrides: the phase is
// pinned and normal timing does not move it.
const (
	stateRed       = "red"
	stateGreen     = "green"
	stateYellow    = "yellow"
	stateHeldGreen = "held_green"
	stateHeldRed   = "held_red"
)

const (
	eventNext       = "next"
	eventForceGreen = "force_green"
	eventForceRed   = "force_red"
	eventRelease    = "release"
)

func phaseOf(state string) Phase {
	switch state {
	case stateGreen, stateHeldGreen:
		return Green
	case stateYellow:
		return Yellow
	default:
		return Red
	}
}

func stateOf(p Phase) string {
	switch p {
	case Green:
		return stateGreen
	case Yellow:
		return stateYellow
	default:
		return stateRed
	}
}

// TrafficLight is a single signal head. It cycles on its own via Advance;
// an Intersection drives it through the unexported two-pass API instead so
// that Red -> Green can be gated by the conflict table.
//
// The phase lives in a fluo state machine; the light keeps the timer and
// only sends an event when a transition is actually wanted.
type TrafficLight struct {
	id        int
	elapsed   time.Duration
	durations Durations
	cycles    uint64

	m     fluo.Machine
	state string
	phase Phase
}

func NewTrafficLight(id int, d Durations) (*TrafficLight, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	l := &TrafficLight{id: id, durations: d, state: stateRed, phase: Red}
	l.m = l.definition().CreateInstance()
	if err := l.m.Start(); err != nil {
		return nil, fmt.Errorf("light %d: %w", id, err)
	}
	return l, nil
}

func (l *TrafficLight) definition() fluo.MachineDefinition {
	allowGreen := func(ctx fluo.Context) bool {
		ok, _ := ctx.GetEventData().(bool)
		return ok
	}
	countCycle := func(fluo.Context) error {
		l.cycles++
		return nil
	}
	return fluo.NewMachine().
		State(stateRed).Initial().
		To(stateGreen).On(eventNext).When(allowGreen).
		To(stateHeldGreen).On(eventForceGreen).
		To(stateHeldRed).On(eventForceRed).
		State(stateGreen).
		To(stateYellow).On(eventNext).
		To(stateHeldGreen).On(eventForceGreen).
		To(stateHeldRed).On(eventForceRed).
		State(stateYellow).
		To(stateRed).On(eventNext).Do(countCycle).
		To(stateHeldGreen).On(eventForceGreen).
		To(stateHeldRed).On(eventForceRed).
		State(stateHeldGreen).
		To(stateYellow).On(eventRelease).
		To(stateHeldRed).On(eventForceRed).
		State(stateHeldRed).
		To(stateRed).On(eventRelease).
		To(stateHeldGreen).On(eventForceGreen).
		Build()
}

func (l *TrafficLight) ID() int                     { return l.id }
func (l *TrafficLight) Phase() Phase                { return l.phase }
func (l *TrafficLight) PhaseElapsed() time.Duration { return l.elapsed }
func (l *TrafficLight) Durations() Durations        { return l.durations }
func (l *TrafficLight) Overridden() bool            { return l.state == stateHeldGreen || l.state == stateHeldRed }

// Cycles counts completed Red phases (a full cycle ends when Yellow turns Red).
func (l *TrafficLight) Cycles() uint64 { return l.cycles }

// Remaining is the time left in the current phase under normal timing.
// It is zero while overridden or once the phase is due.
func (l *TrafficLight) Remaining() time.Duration {
	if l.Overridden() {
		return 0
	}
	left := l.durations.of(l.phase) - l.elapsed
	if left < 0 {
		return 0
	}
	return left
}

// Advance runs the light standalone for one tick and reports whether the
// phase changed.
func (l *TrafficLight) Advance(elapsed time.Duration) bool {
	l.accumulate(elapsed)
	return l.step(true)
}

func (l *TrafficLight) accumulate(elapsed time.Duration) {
	if elapsed > 0 {
		l.elapsed += elapsed
	}
}

// due reports whether normal timing wants to leave the current phase.
func (l *TrafficLight) due() bool {
	return !l.Overridden() && l.elapsed >= l.durations.of(l.phase)
}

// step performs at most one transition. Red -> Green only happens when
// allowGreen is set.
func (l *TrafficLight) step(allowGreen bool) bool {
	if !l.due() {
		return false
	}
	return l.send(eventNext, allowGreen)
}

// waiting is how long a Red light has been held past its red duration.
// Negative when the light is not waiting for green.
func (l *TrafficLight) waiting() time.Duration {
	if l.state != stateRed {
		return -1
	}
	return l.elapsed - l.durations.Red
}

// force applies an override phase immediately (hard cut). The timer keeps
// counting while forced and restarts only if the phase changed.
func (l *TrafficLight) force(p Phase) bool {
	ev := eventForceRed
	if p == Green {
		ev = eventForceGreen
	}
	return l.send(ev, nil)
}

// release ends an override. A light held Green resumes from Yellow; a
// light held Red stays Red and keeps its accumulated time, since Red never
// leads to Yellow in the normal cycle.
func (l *TrafficLight) release() bool {
	if !l.Overridden() {
		return false
	}
	return l.send(eventRelease, nil)
}

// reset puts the light in phase p under normal timing with a fresh timer.
func (l *TrafficLight) reset(p Phase) {
	st := stateOf(p)
	if err := l.m.SetState(st); err != nil {
		return
	}
	l.state, l.phase, l.elapsed = st, p, 0
}

// send delivers ev to the machine and reports whether the phase changed.
// The timer restarts on every phase change.
func (l *TrafficLight) send(ev string, data any) bool {
	res := l.m.SendEvent(ev, data)
	if res == nil || !res.Success() {
		return false
	}
	l.state = res.CurrentState
	p := phaseOf(l.state)
	if p == l.phase {
		return false
	}
	l.phase = p
	l.elapsed = 0
	return true
}
