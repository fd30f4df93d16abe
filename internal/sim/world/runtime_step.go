package world

import (
	"fmt"
	"time"

	"termtraffic.dev/internal/sim/weather"
)

// stepInternal runs one tick. Order: commands, weather, events, override
// release, lights, removal of last tick's exiting vehicles, vehicles,
// collisions, spawns, intersection sampling, invariants, stats, snapshot. A tick either completes
// and emits a snapshot or fails with ErrInvariant and emits nothing.
func (w *World) stepInternal(elapsed time.Duration, cmds []Command) (Snapshot, error) {
	if err := w.Halted(); err != nil {
		return Snapshot{}, err
	}
	stepStart := time.Now()
	nowTick := w.tick.Load()
	if elapsed < 0 {
		elapsed = 0
	}

	w.delta = StatsBucket{}
	w.pending = w.pending[:0]

	for _, cmd := range cmds {
		w.journalCommand(nowTick, cmd)
		w.applyCommand(nowTick, cmd)
	}

	w.weather = weather.Next(w.weather, elapsed)
	w.drainEvents(nowTick)

	for _, in := range w.intersections {
		w.recordLights(in.ReleaseExpiredOverrides(elapsed))
	}
	for _, in := range w.intersections {
		w.recordLights(in.Advance(elapsed, w.weather))
	}

	w.removeExited(nowTick)
	w.advanceVehicles(nowTick, elapsed)
	w.checkCollisions(nowTick)
	w.spawnTraffic(nowTick, elapsed)
	w.sampleIntersections()

	if err := w.checkInvariants(); err != nil {
		halt := fmt.Errorf("tick %d: %w", nowTick, err)
		w.halted.Store(&halt)
		return Snapshot{}, halt
	}

	w.clock.advance(elapsed)
	w.stats.Record(nowTick, w.delta)

	snap := w.buildSnapshot(nowTick, elapsed)
	w.latest.Store(&snap)
	if w.snapshotSink != nil {
		sendLatest(w.snapshotSink, snap)
	}
	if w.eventLogger != nil {
		for _, e := range w.pending {
			_ = w.eventLogger.WriteEvent(e)
		}
	}
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{
			RunID:    w.cfg.RunID,
			Tick:     nowTick,
			SimTime:  snap.SimTime,
			Elapsed:  elapsed,
			Vehicles: len(w.vehicles),
			Delta:    w.delta,
			Digest:   snap.Digest,
		})
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)
	w.metrics.Store(WorldMetrics{
		Tick:             nextTick,
		Vehicles:         len(w.vehicles),
		Paused:           w.paused.Load(),
		TimeScale:        w.clock.Scale(),
		Density:          w.density,
		QueueDepths:      QueueDepths{Commands: len(w.commands), Events: w.queue.Len()},
		StepMS:           stepMS,
		SimSeconds:       w.clock.SimTime().Seconds(),
		StatsWindowTicks: w.stats.WindowTicks(),
		StatsWindow:      snap.Window,
		Weather:          w.weather.Kind.String(),
		WeatherIntensity: w.weather.Intensity,
		OverridesActive:  w.overridesActive(),
		RushHour:         w.rushActive,
	})
	return snap, nil
}

// sampleIntersections records the longest queue and the mean efficiency
// of this tick.
func (w *World) sampleIntersections() {
	if len(w.intersections) == 0 {
		return
	}
	sum := 0.0
	for _, in := range w.intersections {
		sum += in.Efficiency()
		if q := in.LongestQueue(); q > w.delta.PeakQueue {
			w.delta.PeakQueue = q
		}
	}
	w.delta.EfficiencySum = sum / float64(len(w.intersections))
	w.delta.EfficiencySamples = 1
}

func (w *World) overridesActive() int {
	n := 0
	for _, in := range w.intersections {
		if in.OverrideActive() {
			n++
		}
	}
	return n
}
