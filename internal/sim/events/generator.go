package events

import (
	"math"
	"math/rand"
	"time"

	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/weather"
)

type GeneratorConfig struct {
	Intersections int

	EmergencyEnabled     bool
	EmergencyProbability float64 // per tick, before the weather multiplier
	OverrideDuration     time.Duration

	WeatherEnabled bool
	WeatherEvery   uint64 // ticks
	WeatherJitter  uint64
	WeatherRamp    time.Duration

	RushHourEvery      uint64 // ticks; 0 disables
	RushHourJitter     uint64
	RushHourMultiplier float64

	IncidentsEnabled       bool
	IncidentProbability    float64 // per tick
	IncidentMin            time.Duration
	IncidentMax            time.Duration
	MalfunctionProbability float64 // per tick
	MalfunctionMin         time.Duration
	MalfunctionMax         time.Duration

	// TickDuration is the nominal simulated time of one tick, used to
	// express tick intervals as durations.
	TickDuration time.Duration
}

// Generator draws the random schedule of generated events. All randomness
// comes from sources seeded by the run seed so a run is reproducible from
// it. Incidents and malfunctions draw from their own source; turning them
// on leaves the rest of the schedule unchanged.
type Generator struct {
	cfg       GeneratorConfig
	rng       *rand.Rand
	incidents *rand.Rand
	rush      bool
}

func NewGenerator(cfg GeneratorConfig, seed int64) *Generator {
	if cfg.Intersections < 1 {
		cfg.Intersections = 1
	}
	return &Generator{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
		incidents: rand.New(rand.NewSource(seed ^ 0x1ac1de17)),
	}
}

func (g *Generator) Config() GeneratorConfig { return g.cfg }

// Prime schedules the first occurrence of every enabled class.
func (g *Generator) Prime(q *Queue, tick uint64, cur weather.State) {
	g.scheduleEmergency(q, tick, cur)
	g.scheduleWeather(q, tick, cur)
	g.scheduleRushHour(q, tick)
	g.scheduleIncident(q, tick)
	g.scheduleMalfunction(q, tick)
}

// Reschedule queues the next occurrence of the class of a drained event.
// Retries and injected events are not rescheduled.
func (g *Generator) Reschedule(q *Queue, s Scheduled, tick uint64, cur weather.State) {
	if s.Source != Generated {
		return
	}
	switch s.Event.(type) {
	case EmergencyDispatch:
		g.scheduleEmergency(q, tick, cur)
	case WeatherChange:
		g.scheduleWeather(q, tick, cur)
	case RushHourToggle:
		g.scheduleRushHour(q, tick)
	case TrafficIncident:
		g.scheduleIncident(q, tick)
	case TrafficLightMalfunction:
		g.scheduleMalfunction(q, tick)
	}
}

// Emergency draws a dispatch at a random intersection and approach. It is
// also used for manually injected dispatches.
func (g *Generator) Emergency() EmergencyDispatch {
	return EmergencyDispatch{
		Intersection:     g.rng.Intn(g.cfg.Intersections),
		Approach:         traffic.Approaches[g.rng.Intn(traffic.NumApproaches)],
		PriorityDuration: g.cfg.OverrideDuration,
	}
}

// Incident draws an incident at a random intersection.
func (g *Generator) Incident() TrafficIncident {
	return TrafficIncident{
		Intersection: g.incidents.Intn(g.cfg.Intersections),
		Duration:     g.between(g.cfg.IncidentMin, g.cfg.IncidentMax),
	}
}

// Malfunction draws a signal malfunction at a random intersection.
func (g *Generator) Malfunction() TrafficLightMalfunction {
	return TrafficLightMalfunction{
		Intersection: g.incidents.Intn(g.cfg.Intersections),
		Duration:     g.between(g.cfg.MalfunctionMin, g.cfg.MalfunctionMax),
	}
}

// WeatherAfter draws the next weather from the transition chain.
func (g *Generator) WeatherAfter(cur weather.State, hold uint64) WeatherChange {
	from := cur.Heading()
	tr, ok := weather.PickNext(from, g.rng.Float64())
	if !ok {
		tr = weather.Transition{From: from, To: weather.Clear}
	}
	return WeatherChange{Next: weather.Change{
		Kind:     tr.To,
		Target:   tr.Target,
		Ramp:     g.cfg.WeatherRamp,
		Duration: time.Duration(hold) * g.cfg.TickDuration,
	}}
}

func (g *Generator) scheduleEmergency(q *Queue, tick uint64, cur weather.State) {
	if !g.cfg.EmergencyEnabled {
		return
	}
	p := g.cfg.EmergencyProbability * cur.EmergencyMultiplier()
	if p <= 0 {
		return
	}
	q.Push(g.Emergency(), tick+g.geometric(p), Generated)
}

func (g *Generator) scheduleWeather(q *Queue, tick uint64, cur weather.State) {
	if !g.cfg.WeatherEnabled || g.cfg.WeatherEvery == 0 {
		return
	}
	wait := g.jittered(g.cfg.WeatherEvery, g.cfg.WeatherJitter)
	// Drawn from the weather as it is now. The hold is the nominal wait
	// until the following change.
	q.Push(g.WeatherAfter(cur, g.cfg.WeatherEvery), tick+wait, Generated)
}

func (g *Generator) scheduleRushHour(q *Queue, tick uint64) {
	if g.cfg.RushHourEvery == 0 {
		return
	}
	wait := g.jittered(g.cfg.RushHourEvery, g.cfg.RushHourJitter)
	g.rush = !g.rush
	mult := 1.0
	if g.rush {
		mult = g.cfg.RushHourMultiplier
	}
	q.Push(RushHourToggle{Active: g.rush, SpawnMultiplier: mult}, tick+wait, Generated)
}

func (g *Generator) scheduleIncident(q *Queue, tick uint64) {
	if !g.cfg.IncidentsEnabled || g.cfg.IncidentProbability <= 0 {
		return
	}
	wait := geometric(g.incidents, g.cfg.IncidentProbability)
	q.Push(g.Incident(), tick+wait, Generated)
}

func (g *Generator) scheduleMalfunction(q *Queue, tick uint64) {
	if !g.cfg.IncidentsEnabled || g.cfg.MalfunctionProbability <= 0 {
		return
	}
	wait := geometric(g.incidents, g.cfg.MalfunctionProbability)
	q.Push(g.Malfunction(), tick+wait, Generated)
}

// between draws a duration uniformly from [lo, hi], at least one
// millisecond.
func (g *Generator) between(lo, hi time.Duration) time.Duration {
	if hi < lo {
		hi = lo
	}
	d := lo
	if span := int64(hi - lo); span > 0 {
		d += time.Duration(g.incidents.Int63n(span + 1))
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// geometric returns the number of ticks until the first success of a
// per-tick Bernoulli(p) trial, at least 1.
func (g *Generator) geometric(p float64) uint64 { return geometric(g.rng, p) }

func geometric(rng *rand.Rand, p float64) uint64 {
	if p >= 1 {
		return 1
	}
	u := rng.Float64()
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	k := math.Floor(math.Log(u)/math.Log1p(-p)) + 1
	if k > math.MaxUint32 {
		k = math.MaxUint32
	}
	return uint64(k)
}

// jittered is base +/- a uniform draw from [0, jitter], at least 1.
func (g *Generator) jittered(base, jitter uint64) uint64 {
	v := int64(base)
	if jitter > 0 {
		v += g.rng.Int63n(int64(2*jitter+1)) - int64(jitter)
	}
	if v < 1 {
		v = 1
	}
	return uint64(v)
}
