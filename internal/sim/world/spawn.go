package world

import (
	"time"

	"termtraffic.dev/internal/sim/traffic"
)

// spawnTraffic rolls one spawn per approach. The chance is
// spawnRate * dt * rush * density * weather traffic multiplier.
func (w *World) spawnTraffic(nowTick uint64, elapsed time.Duration) {
	p := w.cfg.SpawnRate * elapsed.Seconds() * w.rushMult * w.density * w.weather.TrafficMultiplier()
	if p <= 0 {
		return
	}
	for i := range w.intersections {
		for _, a := range traffic.Approaches {
			// Both draws happen on every roll so the stream does not depend
			// on capacity.
			roll, kindRoll := w.spawner.Float64(), w.spawner.Float64()
			if roll >= p {
				continue
			}
			kind := traffic.Car
			if kindRoll < w.cfg.TruckProbability {
				kind = traffic.Truck
			}
			lane := traffic.LaneRef{Intersection: i, Approach: a}
			v, err := w.spawn(lane, kind)
			if err != nil {
				w.delta.CapacityRejected++
				w.emit(nowTick, EventEntry{Type: "SPAWN_REJECTED", Intersection: i, Approach: a.String(), Detail: err.Error()})
				continue
			}
			w.emit(nowTick, EventEntry{Type: "VEHICLE_SPAWN", Intersection: i, Approach: a.String(), Vehicle: uint64(v.ID), Detail: kind.String()})
		}
	}
}

// canSpawn checks the lane queue capacity, the global vehicle cap and that
// the lane entry is clear by at least MinGap.
func (w *World) canSpawn(lane traffic.LaneRef) error {
	in := w.Intersection(lane.Intersection)
	if in == nil || !lane.Approach.Valid() {
		return &CapacityError{Lane: lane, Reason: "unknown lane"}
	}
	if len(w.vehicles) >= w.cfg.MaxVehicles {
		return &CapacityError{Lane: lane, Reason: "max vehicles reached"}
	}
	if !in.CapacityAvailable(lane.Approach) {
		return &CapacityError{Lane: lane, Reason: "road capacity reached"}
	}
	for _, v := range w.lanes[lane.Intersection][lane.Approach] {
		if v.Position < w.cfg.Follow.MinGap {
			return &CapacityError{Lane: lane, Reason: "lane entry blocked"}
		}
	}
	return nil
}

// spawn creates a vehicle at the lane entry moving at half its limit.
func (w *World) spawn(lane traffic.LaneRef, kind traffic.Kind) (*traffic.Vehicle, error) {
	if err := w.canSpawn(lane); err != nil {
		return nil, err
	}
	w.nextID++
	v := traffic.NewVehicle(w.nextID, kind, lane)
	v.Speed = v.SpeedLimit(w.weather) / 2
	if kind == traffic.Emergency {
		v.Speed = v.SpeedLimit(w.weather)
	}
	if err := w.intersections[lane.Intersection].Admit(lane.Approach, v.ID); err != nil {
		w.nextID--
		return nil, &CapacityError{Lane: lane, Reason: err.Error()}
	}
	w.vehicles[v.ID] = v
	w.lanes[lane.Intersection][lane.Approach] = append(w.lanes[lane.Intersection][lane.Approach], v)
	w.delta.Spawned++
	w.delta.SpawnedByKind[kind]++
	return v, nil
}
