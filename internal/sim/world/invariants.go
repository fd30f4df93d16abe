package world

import (
	"fmt"

	"termtraffic.dev/internal/sim/traffic"
)

const speedSlack = 1e-9

// checkInvariants verifies the end-of-tick state before it is published.
func (w *World) checkInvariants() error {
	for i, in := range w.intersections {
		for _, a := range traffic.Approaches {
			if p := in.Phase(a); p != traffic.Red && p != traffic.Yellow && p != traffic.Green {
				return fmt.Errorf("%w: intersection %d approach %s in phase %s", ErrInvariant, i, a, p)
			}
			if q, l := len(in.Queue(a)), len(w.lanes[i][a]); q != l {
				return fmt.Errorf("%w: intersection %d approach %s queue holds %d, lane holds %d", ErrInvariant, i, a, q, l)
			}
		}
		if a, b, bad := in.GreenConflict(); bad {
			return fmt.Errorf("%w: intersection %d conflicting greens %s/%s", ErrInvariant, i, a, b)
		}
	}
	for _, v := range w.vehicles {
		limit := v.SpeedLimit(w.weather)
		if v.Speed < 0 || v.Speed > limit+speedSlack {
			return fmt.Errorf("%w: vehicle %d speed %.4f outside [0, %.4f]", ErrInvariant, v.ID, v.Speed, limit)
		}
		if (v.State == traffic.Stopped || v.State == traffic.Parked) && v.Speed != 0 {
			return fmt.Errorf("%w: vehicle %d is %s at speed %.4f", ErrInvariant, v.ID, v.State, v.Speed)
		}
	}
	return nil
}
