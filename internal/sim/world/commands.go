package world

import (
	"time"

	"termtraffic.dev/internal/sim/events"
	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/weather"
)

// Command is control input for the world loop. Start, Pause, Resume and
// Shutdown act between ticks; everything else is applied at the start of
// the next tick.
type Command interface{ isCommand() }

type Start struct{}
type Pause struct{}
type Resume struct{}
type Shutdown struct{}

// Inject queues an event due on the tick the command is applied.
type Inject struct{ Event events.Event }

// DispatchEmergency queues an emergency at a lane drawn from the event
// generator. Duration <= 0 uses the configured override duration.
type DispatchEmergency struct{ Duration time.Duration }

// TriggerIncident queues a traffic incident. A negative Intersection or a
// Duration <= 0 is drawn from the event generator.
type TriggerIncident struct {
	Intersection int
	Duration     time.Duration
}

// TriggerMalfunction queues a signal malfunction, drawn like
// TriggerIncident.
type TriggerMalfunction struct {
	Intersection int
	Duration     time.Duration
}

// SetWeather queues a weather change ramping to Intensity over the
// configured ramp.
type SetWeather struct {
	Kind      weather.Kind
	Intensity float64
}

type SetTimeScale struct{ Scale float64 }

// AdjustDensity multiplies the spawn rate by Factor; the resulting density
// factor is clamped to [MinDensity, MaxDensity].
type AdjustDensity struct{ Factor float64 }

type ParkVehicle struct{ ID traffic.VehicleID }
type DespawnVehicle struct{ ID traffic.VehicleID }

func (Start) isCommand()              {}
func (Pause) isCommand()              {}
func (Resume) isCommand()             {}
func (Shutdown) isCommand()           {}
func (Inject) isCommand()             {}
func (DispatchEmergency) isCommand()  {}
func (TriggerIncident) isCommand()    {}
func (TriggerMalfunction) isCommand() {}
func (SetWeather) isCommand()         {}
func (SetTimeScale) isCommand()       {}
func (AdjustDensity) isCommand()      {}
func (ParkVehicle) isCommand()        {}
func (DespawnVehicle) isCommand()     {}

const (
	MinDensity = 0.1
	MaxDensity = 5.0
)

// applyCommand handles a queued command at the start of a tick.
func (w *World) applyCommand(nowTick uint64, cmd Command) {
	switch c := cmd.(type) {
	case Inject:
		if c.Event != nil {
			w.queue.Push(c.Event, nowTick, events.Injected)
		}
	case DispatchEmergency:
		ev := w.gen.Emergency()
		if c.Duration > 0 {
			ev.PriorityDuration = c.Duration
		}
		w.queue.Push(ev, nowTick, events.Injected)
	case TriggerIncident:
		ev := w.gen.Incident()
		if c.Intersection >= 0 {
			ev.Intersection = c.Intersection
		}
		if c.Duration > 0 {
			ev.Duration = c.Duration
		}
		w.queue.Push(ev, nowTick, events.Injected)
	case TriggerMalfunction:
		ev := w.gen.Malfunction()
		if c.Intersection >= 0 {
			ev.Intersection = c.Intersection
		}
		if c.Duration > 0 {
			ev.Duration = c.Duration
		}
		w.queue.Push(ev, nowTick, events.Injected)
	case SetWeather:
		intensity := c.Intensity
		if intensity <= 0 {
			intensity = 1
		}
		hold := w.cfg.WeatherEvery
		if hold == 0 {
			hold = DefaultConfig().WeatherEvery
		}
		w.queue.Push(events.WeatherChange{Next: weather.Change{
			Kind:     c.Kind,
			Target:   intensity,
			Ramp:     w.cfg.WeatherRamp,
			Duration: time.Duration(hold) * w.cfg.TickDuration(),
		}}, nowTick, events.Injected)
	case SetTimeScale:
		w.clock.SetScale(c.Scale)
	case AdjustDensity:
		if c.Factor > 0 {
			d := w.density * c.Factor
			if d < MinDensity {
				d = MinDensity
			}
			if d > MaxDensity {
				d = MaxDensity
			}
			w.density = d
		}
	case ParkVehicle:
		if v := w.vehicles[c.ID]; v != nil && v.State != traffic.Exiting {
			v.Park()
			w.emit(nowTick, EventEntry{Type: "VEHICLE_PARKED", Intersection: v.Lane.Intersection, Approach: v.Lane.Approach.String(), Vehicle: uint64(v.ID)})
		}
	case DespawnVehicle:
		if v := w.vehicles[c.ID]; v != nil {
			w.removeVehicle(v, false)
			w.emit(nowTick, EventEntry{Type: "VEHICLE_DESPAWNED", Intersection: v.Lane.Intersection, Approach: v.Lane.Approach.String(), Vehicle: uint64(v.ID)})
		}
	case Pause:
		w.paused.Store(true)
	case Start, Resume:
		w.paused.Store(false)
	}
}
