package weather

import (
	"fmt"
	"strings"
	"time"
)

type Kind uint8

const (
	Clear Kind = iota
	Rain
	Snow
	Fog
	Storm
)

var Kinds = []Kind{Clear, Rain, Snow, Fog, Storm}

func (k Kind) String() string {
	switch k {
	case Clear:
		return "CLEAR"
	case Rain:
		return "RAIN"
	case Snow:
		return "SNOW"
	case Fog:
		return "FOG"
	case Storm:
		return "STORM"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return Clear, fmt.Errorf("unknown weather %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// effect is the value of each multiplier at full intensity.
type effect struct {
	speed, visibility, traffic, emergency float64
}

var effects = map[Kind]effect{
	Clear: {speed: 1, visibility: 1, traffic: 1, emergency: 1},
	Rain:  {speed: 0.8, visibility: 0.7, traffic: 0.7, emergency: 1.5},
	Snow:  {speed: 0.7, visibility: 0.6, traffic: 0.6, emergency: 1.8},
	Fog:   {speed: 0.85, visibility: 0.4, traffic: 0.8, emergency: 1.3},
	Storm: {speed: 0.6, visibility: 0.3, traffic: 0.5, emergency: 2.0},
}

// State is the weather at one tick. It is a plain value: the world swaps it
// whole, so a tick never observes a half-applied change.
type State struct {
	Kind      Kind    `json:"kind"`
	Intensity float64 `json:"intensity"`

	From        float64       `json:"from"`
	Target      float64       `json:"target"`
	Ramp        time.Duration `json:"ramp"`
	RampElapsed time.Duration `json:"ramp_elapsed"`

	// Remaining is the expected time until the next scheduled change.
	Remaining time.Duration `json:"remaining"`

	// Clearing is set while Kind fades out toward Clear. Kind becomes
	// Clear once the ramp ends.
	Clearing bool `json:"clearing,omitempty"`
}

// Heading is the kind the weather is settling into.
func (s State) Heading() Kind {
	if s.Clearing {
		return Clear
	}
	return s.Kind
}

func ClearState() State { return State{Kind: Clear} }

// Change is the payload of a weather change event.
type Change struct {
	Kind     Kind          `json:"kind"`
	Target   float64       `json:"target"`
	Ramp     time.Duration `json:"ramp"`
	Duration time.Duration `json:"duration"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s@%.2f", c.Kind, c.Target)
}

func scale(full, intensity float64) float64 {
	return 1 - clamp01(intensity)*(1-full)
}

func (s State) SpeedMultiplier() float64 { return scale(effects[s.Kind].speed, s.Intensity) }

func (s State) VisibilityMultiplier() float64 {
	return scale(effects[s.Kind].visibility, s.Intensity)
}

func (s State) TrafficMultiplier() float64 { return scale(effects[s.Kind].traffic, s.Intensity) }

// EmergencyMultiplier scales the emergency dispatch rate; it grows with
// intensity instead of shrinking.
func (s State) EmergencyMultiplier() float64 {
	return 1 + clamp01(s.Intensity)*(effects[s.Kind].emergency-1)
}

// Settled reports whether the intensity ramp has finished.
func (s State) Settled() bool { return s.Ramp <= 0 || s.RampElapsed >= s.Ramp }

// Next ramps intensity linearly from From to Target over Ramp and then
// holds it.
func Next(cur State, elapsed time.Duration) State {
	if elapsed < 0 {
		elapsed = 0
	}
	out := cur
	out.Remaining -= elapsed
	if out.Remaining < 0 {
		out.Remaining = 0
	}
	if out.Ramp <= 0 {
		out.Intensity = clamp01(out.Target)
		return settle(out)
	}
	out.RampElapsed += elapsed
	if out.RampElapsed >= out.Ramp {
		out.RampElapsed = out.Ramp
		out.Intensity = clamp01(out.Target)
		return settle(out)
	}
	frac := float64(out.RampElapsed) / float64(out.Ramp)
	out.Intensity = clamp01(out.From + (out.Target-out.From)*frac)
	return out
}

func settle(s State) State {
	if s.Clearing {
		s.Kind = Clear
		s.Clearing = false
		s.Intensity, s.From, s.Target = 0, 0, 0
	}
	return s
}

// Apply replaces cur with the weather described by ch. The ramp starts
// where the speed multiplier is now: the same kind keeps its intensity, a
// new kind starts at the intensity giving the current speed, and a change
// to Clear fades the current kind out.
func Apply(cur State, ch Change) State {
	target := clamp01(ch.Target)
	if ch.Kind == Clear {
		target = 0
	}
	out := State{
		Kind:      ch.Kind,
		Target:    target,
		Ramp:      ch.Ramp,
		Remaining: ch.Duration,
	}
	switch {
	case ch.Kind == cur.Kind:
		out.From = cur.Intensity
	case ch.Kind == Clear:
		out.Kind = cur.Kind
		out.From = cur.Intensity
		out.Clearing = true
	default:
		out.From = intensityFor(ch.Kind, cur.SpeedMultiplier())
	}
	out.Intensity = out.From
	if out.Ramp <= 0 {
		out.Intensity = target
		out = settle(out)
	}
	return out
}

// intensityFor is the intensity of k whose speed multiplier is m, clamped
// to [0, 1].
func intensityFor(k Kind, m float64) float64 {
	full := effects[k].speed
	if full >= 1 {
		return 0
	}
	return clamp01((1 - m) / (1 - full))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
