package world

import (
	"time"

	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/weather"
)

// Snapshot is the render-ready copy of one tick. Every slice is freshly
// allocated, so a consumer may keep it while the world moves on.
type Snapshot struct {
	RunID     string        `json:"run_id"`
	Seed      int64         `json:"seed"`
	Tick      uint64        `json:"tick"`
	SimTime   time.Duration `json:"sim_time"`
	Elapsed   time.Duration `json:"elapsed"`
	TimeScale float64       `json:"time_scale"`
	Density   float64       `json:"density"`
	Paused    bool          `json:"paused"`

	Weather  weather.State `json:"weather"`
	RushHour bool          `json:"rush_hour"`
	SpawnMul float64       `json:"spawn_multiplier"`

	Intersections []IntersectionView `json:"intersections"`
	Vehicles      []VehicleView      `json:"vehicles"`
	Events        []EventEntry       `json:"events,omitempty"`
	PendingEvents int                `json:"pending_events"`

	Delta       StatsBucket `json:"delta"`
	Window      StatsBucket `json:"window"`
	WindowTicks uint64      `json:"window_ticks"`

	// EfficiencyTrend is the mean efficiency per stats bucket, oldest first.
	EfficiencyTrend []float64 `json:"efficiency_trend,omitempty"`

	Digest string `json:"digest"`
}

type IntersectionView struct {
	ID         int                              `json:"id"`
	Lights     [traffic.NumApproaches]LightView `json:"lights"`
	Queued     [traffic.NumApproaches]int       `json:"queued"`
	Waiting    [traffic.NumApproaches]int       `json:"waiting"`
	Throughput [traffic.NumApproaches]uint64    `json:"throughput"`
	Override   bool                             `json:"override"`
	Efficiency float64                          `json:"efficiency"`
	Congestion traffic.Congestion               `json:"congestion"`
	Incident   bool                             `json:"incident"`
	// Malfunction is set while every light is held Red.
	Malfunction bool `json:"malfunction"`
}

type LightView struct {
	Approach   traffic.Approach `json:"approach"`
	Phase      traffic.Phase    `json:"phase"`
	Elapsed    time.Duration    `json:"elapsed"`
	Remaining  time.Duration    `json:"remaining"`
	Overridden bool             `json:"overridden"`
}

type VehicleView struct {
	ID           traffic.VehicleID `json:"id"`
	Kind         traffic.Kind      `json:"kind"`
	Intersection int               `json:"intersection"`
	Approach     traffic.Approach  `json:"approach"`
	Position     float64           `json:"position"`
	Speed        float64           `json:"speed"`
	State        traffic.State     `json:"state"`
}

// Phase returns the phase of approach a at intersection i.
func (s Snapshot) Phase(i int, a traffic.Approach) (traffic.Phase, bool) {
	if i < 0 || i >= len(s.Intersections) || !a.Valid() {
		return traffic.Red, false
	}
	return s.Intersections[i].Lights[a].Phase, true
}

func (w *World) buildSnapshot(nowTick uint64, elapsed time.Duration) Snapshot {
	snap := Snapshot{
		RunID:         w.cfg.RunID,
		Seed:          w.cfg.Seed,
		Tick:          nowTick,
		SimTime:       w.clock.SimTime(),
		Elapsed:       elapsed,
		TimeScale:     w.clock.Scale(),
		Density:       w.density,
		Paused:        w.paused.Load(),
		Weather:       w.weather,
		RushHour:      w.rushActive,
		SpawnMul:      w.rushMult,
		Intersections: make([]IntersectionView, 0, len(w.intersections)),
		Vehicles:      make([]VehicleView, 0, len(w.vehicles)),
		PendingEvents: w.queue.Len(),
		Delta:         w.delta,
		Window:        w.stats.Summarize(nowTick),
		WindowTicks:   w.stats.WindowTicks(),

		EfficiencyTrend: w.stats.EfficiencyTrend(nowTick),
	}
	if len(w.pending) > 0 {
		snap.Events = append([]EventEntry(nil), w.pending...)
	}
	for i, in := range w.intersections {
		iv := IntersectionView{
			ID:          in.ID(),
			Override:    in.OverrideActive(),
			Efficiency:  in.Efficiency(),
			Congestion:  in.Congestion(),
			Incident:    in.IncidentActive(),
			Malfunction: in.MalfunctionActive(),
		}
		for _, a := range traffic.Approaches {
			l := in.Light(a)
			iv.Lights[a] = LightView{
				Approach:   a,
				Phase:      l.Phase(),
				Elapsed:    l.PhaseElapsed(),
				Remaining:  l.Remaining(),
				Overridden: l.Overridden(),
			}
			iv.Queued[a] = len(w.lanes[i][a])
			iv.Waiting[a] = in.Waiting(a)
			iv.Throughput[a] = in.Throughput(a)
			for _, v := range w.lanes[i][a] {
				snap.Vehicles = append(snap.Vehicles, VehicleView{
					ID:           v.ID,
					Kind:         v.Kind,
					Intersection: i,
					Approach:     a,
					Position:     v.Position,
					Speed:        v.Speed,
					State:        v.State,
				})
			}
		}
		snap.Intersections = append(snap.Intersections, iv)
	}
	snap.Digest = w.stateDigest(nowTick)
	return snap
}
