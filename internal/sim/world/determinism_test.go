package world

import (
	"testing"
	"time"

	"termtraffic.dev/internal/sim/events"
	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/weather"
)

func testConfig() WorldConfig {
	cfg := DefaultConfig()
	cfg.RunID = "test"
	cfg.Seed = 42
	cfg.FixedStep = true
	cfg.AutoStart = true
	return cfg
}

func newTestWorld(t *testing.T, cfg WorldConfig) *World {
	t.Helper()
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

func TestDeterminism_SameSeedSameDigest(t *testing.T) {
	cfg := testConfig()
	cfg.Intersections = 2
	cfg.SpawnRate = 1
	cfg.EmergencyProbability = 0.02
	cfg.WeatherEvery = 40
	cfg.WeatherJitter = 10
	cfg.RushHourEvery = 80
	cfg.RushHourJitter = 20

	w1 := newTestWorld(t, cfg)
	cfg.RunID = "other"
	w2 := newTestWorld(t, cfg)

	for tick := uint64(0); tick < 600; tick++ {
		s1, err := w1.StepFixed()
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		s2, err := w2.StepFixed()
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if s1.Digest != s2.Digest {
			t.Fatalf("digest mismatch at tick %d: %s vs %s", tick, s1.Digest, s2.Digest)
		}
		if s1.Tick != tick {
			t.Fatalf("snapshot tick %d want %d", s1.Tick, tick)
		}
	}
}

func TestDeterminism_CommandsReplayed(t *testing.T) {
	cfg := testConfig()
	cfg.SpawnRate = 0.5
	w1 := newTestWorld(t, cfg)
	w2 := newTestWorld(t, cfg)

	script := map[uint64][]Command{
		5:  {AdjustDensity{Factor: 2}},
		20: {SetTimeScale{Scale: 2}},
		40: {Inject{Event: events.EmergencyDispatch{Intersection: 0, Approach: traffic.East, PriorityDuration: 3 * time.Second}}},
		60: {TriggerIncident{Intersection: -1}},
		80: {TriggerMalfunction{Intersection: 0, Duration: 2 * time.Second}},
	}
	for tick := uint64(0); tick < 120; tick++ {
		s1, err := w1.StepFixed(script[tick]...)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		s2, err := w2.StepFixed(script[tick]...)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if s1.Digest != s2.Digest {
			t.Fatalf("digest mismatch at tick %d", tick)
		}
	}
}

func TestDeterminism_SeedChangesRun(t *testing.T) {
	cfg := testConfig()
	cfg.SpawnRate = 1
	w1 := newTestWorld(t, cfg)
	cfg.Seed = 43
	w2 := newTestWorld(t, cfg)

	s1, err := w1.StepFixed()
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	s2, err := w2.StepFixed()
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if s1.Digest == s2.Digest {
		t.Fatalf("seeds 42 and 43 produced the same digest")
	}
}

func TestDeterminism_JournalReplay(t *testing.T) {
	cfg := testConfig()
	cfg.SpawnRate = 0.5
	w1 := newTestWorld(t, cfg)

	var last Snapshot
	for tick := uint64(0); tick < 150; tick++ {
		var cmds []Command
		switch tick {
		case 10:
			cmds = []Command{Pause{}, Resume{}, AdjustDensity{Factor: 1.5}}
		case 30:
			cmds = []Command{Inject{Event: events.WeatherChange{Next: weather.Change{Kind: weather.Snow, Target: 0.8, Ramp: 2 * time.Second}}}}
		case 60:
			cmds = []Command{SetTimeScale{Scale: 0.5}}
		case 90:
			cmds = []Command{TriggerIncident{Intersection: 0, Duration: 5 * time.Second}}
		}
		s, err := w1.StepFixed(cmds...)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		last = s
	}
	journal := w1.Journal()
	if len(journal) != 4 {
		t.Fatalf("journal has %d entries want 4", len(journal))
	}

	w2 := newTestWorld(t, w1.Config())
	byTick := JournalAt(journal)
	var replayed Snapshot
	for tick := uint64(0); tick <= last.Tick; tick++ {
		s, err := w2.StepFixed(byTick[tick]...)
		if err != nil {
			t.Fatalf("replay tick %d: %v", tick, err)
		}
		replayed = s
	}
	if last.Digest != replayed.Digest {
		t.Fatalf("replay digest %s want %s", replayed.Digest, last.Digest)
	}
}
