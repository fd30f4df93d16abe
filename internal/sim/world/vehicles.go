package world

import (
	"fmt"
	"time"

	"termtraffic.dev/internal/sim/traffic"
)

// removeExited drops vehicles that spent their one tick in Exiting.
func (w *World) removeExited(nowTick uint64) {
	for i := range w.lanes {
		for _, a := range traffic.Approaches {
			for _, v := range w.lanes[i][a] {
				if v.State != traffic.Exiting {
					continue
				}
				w.removeVehicle(v, true)
				w.delta.Exited++
				w.delta.ExitWaitSeconds += v.Waited.Seconds()
				w.emit(nowTick, EventEntry{Type: "VEHICLE_EXIT", Intersection: i, Approach: a.String(), Vehicle: uint64(v.ID)})
			}
		}
	}
}

// removeVehicle takes v out of its lane, its approach queue and the index.
func (w *World) removeVehicle(v *traffic.Vehicle, exited bool) {
	ln := v.Lane
	lane := w.lanes[ln.Intersection][ln.Approach]
	for i, o := range lane {
		if o == v {
			w.lanes[ln.Intersection][ln.Approach] = append(lane[:i:i], lane[i+1:]...)
			break
		}
	}
	in := w.intersections[ln.Intersection]
	if exited {
		in.Depart(ln.Approach, v.ID)
	} else {
		in.Remove(ln.Approach, v.ID)
	}
	delete(w.vehicles, v.ID)
}

// advanceVehicles moves every lane front to back so each follower sees its
// leader's position for this tick.
func (w *World) advanceVehicles(nowTick uint64, elapsed time.Duration) {
	for i, in := range w.intersections {
		for _, a := range traffic.Approaches {
			lane := w.lanes[i][a]
			traffic.SortLane(lane)
			phase := in.Phase(a)
			stopped := 0
			var leader *traffic.Vehicle
			for _, v := range lane {
				switch v.Advance(elapsed, phase, w.weather, leader, w.cfg.Lane, w.cfg.Follow) {
				case traffic.VehicleStopped:
					w.delta.Stops++
				case traffic.VehicleCommitted:
					w.emit(nowTick, EventEntry{Type: "YELLOW_COMMIT", Intersection: i, Approach: a.String(), Vehicle: uint64(v.ID)})
				}
				if v.State == traffic.Stopped {
					stopped++
					w.delta.WaitSeconds += elapsed.Seconds()
					if s := v.Waited.Seconds(); s > w.delta.PeakWaitSeconds {
						w.delta.PeakWaitSeconds = s
					}
				}
				leader = v
			}
			in.SetWaiting(a, stopped)
		}
	}
}

func (w *World) checkCollisions(nowTick uint64) {
	for i := range w.lanes {
		for _, a := range traffic.Approaches {
			for _, r := range traffic.CheckLane(w.lanes[i][a], w.cfg.Follow.MinGap) {
				typ := "NEAR_MISS"
				if r.Kind == traffic.Collision {
					w.delta.Collisions++
					typ = "COLLISION"
				} else {
					w.delta.NearMisses++
				}
				w.emit(nowTick, EventEntry{
					Type:         typ,
					Intersection: i,
					Approach:     a.String(),
					Vehicle:      uint64(r.Follower),
					Detail:       fmt.Sprintf("leader=%d gap=%.2f", r.Leader, r.Gap),
				})
			}
		}
	}
}
