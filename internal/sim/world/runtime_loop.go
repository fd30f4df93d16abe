package world

import (
	"context"
	"time"
)

// Run paces ticks off a ticker until ctx is done, Stop is called or a
// Shutdown command arrives. Commands received between ticks are applied at
// the start of the next tick; cancellation is only observed between ticks.
func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []Command
	w.clock.Reset(time.Now())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case cmd := <-w.commands:
			switch cmd.(type) {
			case Shutdown:
				return nil
			case Pause:
				w.paused.Store(true)
			case Start, Resume:
				if w.paused.Load() {
					w.paused.Store(false)
					w.clock.Reset(time.Now())
				}
			default:
				pending = append(pending, cmd)
			}
		case now := <-ticker.C:
			if w.paused.Load() {
				continue
			}
			elapsed := w.clock.Elapsed(now)
			if _, err := w.stepInternal(elapsed, pending); err != nil {
				return err
			}
			pending = pending[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick of elapsed simulated time
// using the same ordering as Run. It is intended for tests and replays.
func (w *World) StepOnce(elapsed time.Duration, cmds ...Command) (Snapshot, error) {
	return w.stepInternal(elapsed, cmds)
}

// StepFixed advances one tick of the nominal step, clamped like Run.
func (w *World) StepFixed(cmds ...Command) (Snapshot, error) {
	return w.stepInternal(w.clock.Scaled(w.clock.nominal), cmds)
}
