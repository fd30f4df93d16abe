package world

import (
	"errors"
	"fmt"

	"termtraffic.dev/internal/sim/events"
	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/weather"
)

// drainEvents applies every event due by nowTick, emergencies first. A
// dispatch that cannot be served this tick goes back on the queue for the
// next one.
func (w *World) drainEvents(nowTick uint64) {
	for _, s := range w.queue.PopDue(nowTick) {
		switch e := s.Event.(type) {
		case events.EmergencyDispatch:
			w.applyEmergency(nowTick, e)
		case events.WeatherChange:
			w.weather = weather.Apply(w.weather, e.Next)
			w.delta.WeatherChanges++
			w.emit(nowTick, EventEntry{Type: "WEATHER_CHANGE", Intersection: -1, Detail: e.Next.String()})
		case events.RushHourToggle:
			w.rushActive = e.Active
			w.rushMult = e.SpawnMultiplier
			if w.rushMult <= 0 {
				w.rushMult = 1
			}
			w.emit(nowTick, EventEntry{Type: "RUSH_HOUR", Intersection: -1, Detail: fmt.Sprintf("active=%t x%.2f", e.Active, w.rushMult)})
		case events.TrafficIncident:
			w.applyIncident(nowTick, e)
		case events.TrafficLightMalfunction:
			w.applyMalfunction(nowTick, e)
		}
		w.gen.Reschedule(w.queue, s, nowTick, w.weather)
	}
}

func (w *World) applyEmergency(nowTick uint64, e events.EmergencyDispatch) {
	in := w.Intersection(e.Intersection)
	if in == nil || !e.Approach.Valid() {
		w.emit(nowTick, EventEntry{Type: "EMERGENCY_DROPPED", Intersection: e.Intersection, Detail: "unknown lane"})
		return
	}
	lane := traffic.LaneRef{Intersection: e.Intersection, Approach: e.Approach}
	retry := func(reason string) {
		e.Attempts++
		w.queue.Push(e, nowTick+1, events.Retry)
		w.emit(nowTick, EventEntry{Type: "EMERGENCY_RETRY", Intersection: lane.Intersection, Approach: lane.Approach.String(), Detail: reason})
	}

	if err := w.canSpawn(lane); err != nil {
		w.delta.CapacityRejected++
		retry(err.Error())
		return
	}
	dur := e.PriorityDuration
	if dur <= 0 {
		dur = w.cfg.OverrideDuration
	}
	evs, err := in.RequestEmergencyOverride(e.Approach, dur)
	switch {
	case errors.Is(err, traffic.ErrSignalFault):
		// Emergency vehicles run red lights; send it without a grant.
		w.emit(nowTick, EventEntry{Type: "OVERRIDE_UNAVAILABLE", Intersection: lane.Intersection, Approach: lane.Approach.String(), Detail: err.Error()})
		w.dispatch(nowTick, lane)
		return
	case err != nil:
		var denied *traffic.OverrideDeniedError
		if errors.As(err, &denied) {
			w.delta.OverridesDenied++
			w.emit(nowTick, EventEntry{Type: "OVERRIDE_DENIED", Intersection: lane.Intersection, Approach: lane.Approach.String(), Detail: "held by " + denied.HeldBy.String()})
			retry(err.Error())
			return
		}
		w.emit(nowTick, EventEntry{Type: "EMERGENCY_DROPPED", Intersection: lane.Intersection, Approach: lane.Approach.String(), Detail: err.Error()})
		return
	}
	w.delta.OverridesGranted++
	w.emit(nowTick, EventEntry{Type: "OVERRIDE_GRANTED", Intersection: lane.Intersection, Approach: lane.Approach.String(), Detail: dur.String()})
	w.recordLights(evs)
	w.dispatch(nowTick, lane)
}

func (w *World) dispatch(nowTick uint64, lane traffic.LaneRef) {
	v, err := w.spawn(lane, traffic.Emergency)
	if err != nil {
		// applyEmergency ran canSpawn and nothing ran in between.
		w.delta.CapacityRejected++
		return
	}
	w.delta.EmergencyDispatches++
	w.emit(nowTick, EventEntry{Type: "EMERGENCY_DISPATCH", Intersection: lane.Intersection, Approach: lane.Approach.String(), Vehicle: uint64(v.ID)})
}

func (w *World) applyIncident(nowTick uint64, e events.TrafficIncident) {
	in := w.Intersection(e.Intersection)
	if in == nil {
		w.emit(nowTick, EventEntry{Type: "INCIDENT_DROPPED", Intersection: e.Intersection, Detail: "unknown intersection"})
		return
	}
	if err := in.StartIncident(e.Duration); err != nil {
		w.emit(nowTick, EventEntry{Type: "INCIDENT_DROPPED", Intersection: e.Intersection, Detail: err.Error()})
		return
	}
	w.delta.Incidents++
	w.emit(nowTick, EventEntry{Type: "TRAFFIC_INCIDENT", Intersection: e.Intersection, Detail: e.Duration.String()})
}

func (w *World) applyMalfunction(nowTick uint64, e events.TrafficLightMalfunction) {
	in := w.Intersection(e.Intersection)
	if in == nil {
		w.emit(nowTick, EventEntry{Type: "MALFUNCTION_DROPPED", Intersection: e.Intersection, Detail: "unknown intersection"})
		return
	}
	evs, err := in.StartMalfunction(e.Duration)
	if err != nil {
		w.emit(nowTick, EventEntry{Type: "MALFUNCTION_DROPPED", Intersection: e.Intersection, Detail: err.Error()})
		return
	}
	w.recordLights(evs)
	w.delta.Malfunctions++
	w.emit(nowTick, EventEntry{Type: "LIGHT_MALFUNCTION", Intersection: e.Intersection, Detail: e.Duration.String()})
}

func (w *World) recordLights(evs []traffic.LightEvent) {
	w.delta.LightChanges += len(evs)
}
