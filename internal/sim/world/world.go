package world

import (
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"termtraffic.dev/internal/sim/events"
	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/weather"
)

// ErrInvariant is returned when a tick ends in a state the engine must never
// produce. The world halts without emitting that tick's snapshot.
var ErrInvariant = errors.New("world invariant violated")

// CapacityError reports a rejected spawn. Nothing was created.
type CapacityError struct {
	Lane   traffic.LaneRef
	Reason string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("spawn on intersection %d approach %s rejected: %s", e.Lane.Intersection, e.Lane.Approach, e.Reason)
}

func (e *CapacityError) Unwrap() error { return traffic.ErrCapacityExceeded }

// World is the single-threaded simulation. All state must be accessed only
// from the world loop goroutine; Latest and Metrics are the exceptions.
type World struct {
	cfg WorldConfig

	tick  atomic.Uint64
	clock *Clock

	intersections []*traffic.Intersection
	conflicts     traffic.ConflictTable
	// lanes[i][a] holds the vehicles of one approach, front first.
	lanes    [][traffic.NumApproaches][]*traffic.Vehicle
	vehicles map[traffic.VehicleID]*traffic.Vehicle
	nextID   traffic.VehicleID

	weather weather.State
	queue   *events.Queue
	gen     *events.Generator
	spawner *rand.Rand

	rushActive bool
	rushMult   float64
	density    float64

	commands chan Command
	stop     chan struct{}
	paused   atomic.Bool
	halted   atomic.Pointer[error]

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	eventLogger EventLogger

	// Optional snapshot sink (may be nil). Only the newest snapshot is kept
	// when the consumer falls behind.
	snapshotSink chan Snapshot
	latest       atomic.Pointer[Snapshot]

	stats   *WorldStats
	delta   StatsBucket
	pending []EventEntry
	journal []JournalEntry

	metrics atomic.Value
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type EventLogger interface {
	WriteEvent(entry EventEntry) error
}

type TickLogEntry struct {
	RunID    string        `json:"run_id"`
	Tick     uint64        `json:"tick"`
	SimTime  time.Duration `json:"sim_time"`
	Elapsed  time.Duration `json:"elapsed"`
	Vehicles int           `json:"vehicles"`
	Delta    StatsBucket   `json:"delta"`
	Digest   string        `json:"digest"`
}

// EventEntry is one notable thing that happened inside a tick.
type EventEntry struct {
	RunID        string `json:"run_id"`
	Tick         uint64 `json:"tick"`
	Type         string `json:"type"`
	Intersection int    `json:"intersection"`
	Approach     string `json:"approach,omitempty"`
	Vehicle      uint64 `json:"vehicle,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

func New(cfg WorldConfig) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conflicts, err := cfg.conflicts()
	if err != nil {
		return nil, err
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	w := &World{
		cfg:       cfg,
		clock:     NewClock(cfg.TickRateHz, cfg.TimeScale, cfg.MaxStep, cfg.FixedStep),
		conflicts: conflicts,
		lanes:     make([][traffic.NumApproaches][]*traffic.Vehicle, cfg.Intersections),
		vehicles:  map[traffic.VehicleID]*traffic.Vehicle{},
		weather:   weather.ClearState(),
		queue:     events.NewQueue(),
		spawner:   rand.New(rand.NewSource(cfg.Seed + 1)),
		rushMult:  1,
		density:   1,
		commands:  make(chan Command, 256),
		stop:      make(chan struct{}),
		stats:     NewWorldStats(cfg.StatsBucketTicks, cfg.StatsWindowTicks),
	}
	for i := 0; i < cfg.Intersections; i++ {
		in, err := traffic.NewIntersection(i, traffic.IntersectionConfig{
			Durations:    cfg.Durations,
			RoadCapacity: cfg.RoadCapacity,
			Conflicts:    conflicts,
		})
		if err != nil {
			return nil, err
		}
		w.intersections = append(w.intersections, in)
	}
	w.gen = events.NewGenerator(events.GeneratorConfig{
		Intersections:        cfg.Intersections,
		EmergencyEnabled:     cfg.EmergencyEnabled,
		EmergencyProbability: cfg.EmergencyProbability,
		OverrideDuration:     cfg.OverrideDuration,
		WeatherEnabled:       cfg.WeatherEnabled,
		WeatherEvery:         cfg.WeatherEvery,
		WeatherJitter:        cfg.WeatherJitter,
		WeatherRamp:          cfg.WeatherRamp,
		RushHourEvery:        cfg.RushHourEvery,
		RushHourJitter:       cfg.RushHourJitter,
		RushHourMultiplier:   cfg.RushHourMultiplier,

		IncidentsEnabled:       cfg.IncidentsEnabled,
		IncidentProbability:    cfg.IncidentProbability,
		IncidentMin:            cfg.IncidentMin,
		IncidentMax:            cfg.IncidentMax,
		MalfunctionProbability: cfg.MalfunctionProbability,
		MalfunctionMin:         cfg.MalfunctionMin,
		MalfunctionMax:         cfg.MalfunctionMax,

		TickDuration: cfg.TickDuration(),
	}, cfg.Seed)
	w.gen.Prime(w.queue, 0, w.weather)
	w.paused.Store(!cfg.AutoStart)
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)       { w.tickLogger = l }
func (w *World) SetEventLogger(l EventLogger)     { w.eventLogger = l }
func (w *World) SetSnapshotSink(ch chan Snapshot) { w.snapshotSink = ch }
func (w *World) Commands() chan<- Command         { return w.commands }
func (w *World) Config() WorldConfig              { return w.cfg }
func (w *World) RunID() string                    { return w.cfg.RunID }
func (w *World) CurrentTick() uint64              { return w.tick.Load() }
func (w *World) Paused() bool                     { return w.paused.Load() }

func (w *World) Intersection(i int) *traffic.Intersection {
	if i < 0 || i >= len(w.intersections) {
		return nil
	}
	return w.intersections[i]
}

// Submit queues a command without blocking and reports whether it fit.
func (w *World) Submit(cmd Command) bool {
	select {
	case w.commands <- cmd:
		return true
	default:
		return false
	}
}

// Latest returns the most recently emitted snapshot. It is safe to call
// from any goroutine.
func (w *World) Latest() (Snapshot, bool) {
	p := w.latest.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}

// Halted returns the invariant error that stopped the world, if any.
func (w *World) Halted() error {
	if p := w.halted.Load(); p != nil {
		return *p
	}
	return nil
}

func (w *World) emit(nowTick uint64, e EventEntry) {
	e.RunID = w.cfg.RunID
	e.Tick = nowTick
	w.pending = append(w.pending, e)
}

// sendLatest delivers s, dropping the oldest queued snapshot when the sink
// is full.
func sendLatest(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
