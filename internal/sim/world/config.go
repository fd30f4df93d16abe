package world

import (
	"fmt"
	"time"

	"termtraffic.dev/internal/sim/traffic"
)

const (
	MinTimeScale = 0.1
	MaxTimeScale = 5.0

	TopologyFourWay   = "four_way"
	TopologyExclusive = "exclusive"
)

type WorldConfig struct {
	// RunID labels snapshots and persisted rows. Generated when empty; it
	// does not take part in the state digest.
	RunID string
	Seed  int64

	TickRateHz int
	TimeScale  float64
	MaxStep    time.Duration
	// FixedStep advances every tick by 1/TickRateHz * TimeScale instead of
	// measured wall time.
	FixedStep bool
	AutoStart bool

	Intersections int
	Topology      string
	Durations     traffic.Durations
	RoadCapacity  int
	Lane          traffic.LaneGeometry
	Follow        traffic.FollowParams

	MaxVehicles      int
	SpawnRate        float64 // vehicles per simulated second per approach
	TruckProbability float64

	EmergencyEnabled     bool
	EmergencyProbability float64 // per tick
	OverrideDuration     time.Duration

	WeatherEnabled bool
	WeatherEvery   uint64
	WeatherJitter  uint64
	WeatherRamp    time.Duration

	RushHourEvery      uint64
	RushHourJitter     uint64
	RushHourMultiplier float64

	IncidentsEnabled       bool
	IncidentProbability    float64 // per tick
	IncidentMin            time.Duration
	IncidentMax            time.Duration
	MalfunctionProbability float64 // per tick
	MalfunctionMin         time.Duration
	MalfunctionMax         time.Duration

	StatsBucketTicks uint64
	StatsWindowTicks uint64
}

func DefaultConfig() WorldConfig {
	return WorldConfig{
		Seed:                   1,
		TickRateHz:             10,
		TimeScale:              1,
		MaxStep:                500 * time.Millisecond,
		AutoStart:              true,
		Intersections:          1,
		Topology:               TopologyFourWay,
		Durations:              traffic.DefaultDurations,
		RoadCapacity:           8,
		Lane:                   traffic.LaneGeometry{StopLine: 60, Exit: 100},
		Follow:                 traffic.FollowParams{MinGap: 5, TTC: 2 * time.Second},
		MaxVehicles:            50,
		SpawnRate:              0.2,
		TruckProbability:       0.18,
		EmergencyEnabled:       true,
		EmergencyProbability:   0.002,
		OverrideDuration:       6 * time.Second,
		WeatherEnabled:         true,
		WeatherEvery:           600,
		WeatherJitter:          200,
		WeatherRamp:            10 * time.Second,
		RushHourEvery:          1200,
		RushHourJitter:         300,
		RushHourMultiplier:     2.5,
		IncidentsEnabled:       true,
		IncidentProbability:    0.001,
		IncidentMin:            30 * time.Second,
		IncidentMax:            2 * time.Minute,
		MalfunctionProbability: 0.0001,
		MalfunctionMin:         15 * time.Second,
		MalfunctionMax:         time.Minute,
		StatsBucketTicks:       50,
		StatsWindowTicks:       3000,
	}
}

// Validate rejects configurations the engine cannot start from. Every
// failure is a *traffic.ConfigError.
func (c WorldConfig) Validate() error {
	bad := func(field, reason string) error { return &traffic.ConfigError{Field: field, Reason: reason} }

	if c.TickRateHz <= 0 {
		return bad("tick_rate_hz", "must be > 0")
	}
	if c.TimeScale < MinTimeScale || c.TimeScale > MaxTimeScale {
		return bad("time_scale", fmt.Sprintf("must be within [%g, %g]", MinTimeScale, MaxTimeScale))
	}
	if c.MaxStep <= 0 {
		return bad("max_step", "must be > 0")
	}
	if c.Intersections <= 0 {
		return bad("intersections", "must be > 0")
	}
	if _, err := c.conflicts(); err != nil {
		return err
	}
	if err := c.Durations.Validate(); err != nil {
		return err
	}
	if c.RoadCapacity <= 0 {
		return bad("road_capacity", "must be > 0")
	}
	if err := c.Lane.Validate(); err != nil {
		return err
	}
	if err := c.Follow.Validate(); err != nil {
		return err
	}
	if c.MaxVehicles <= 0 {
		return bad("max_vehicles", "must be > 0")
	}
	if c.SpawnRate < 0 {
		return bad("spawn_rate", "must be >= 0")
	}
	if c.TruckProbability < 0 || c.TruckProbability > 1 {
		return bad("truck_probability", "must be within [0, 1]")
	}
	if c.EmergencyProbability < 0 || c.EmergencyProbability > 1 {
		return bad("emergency_probability", "must be within [0, 1]")
	}
	if c.EmergencyEnabled && c.OverrideDuration <= 0 {
		return bad("override_duration", "must be > 0")
	}
	if c.WeatherEnabled && c.WeatherEvery == 0 {
		return bad("weather_every", "must be > 0 when weather is enabled")
	}
	if c.WeatherJitter > c.WeatherEvery {
		return bad("weather_jitter", "must not exceed weather_every")
	}
	if c.WeatherRamp < 0 {
		return bad("weather_ramp", "must be >= 0")
	}
	if c.RushHourJitter > c.RushHourEvery {
		return bad("rush_hour_jitter", "must not exceed rush_hour_every")
	}
	if c.RushHourEvery > 0 && c.RushHourMultiplier <= 0 {
		return bad("rush_hour_multiplier", "must be > 0")
	}
	if c.IncidentProbability < 0 || c.IncidentProbability > 1 {
		return bad("incident_probability", "must be within [0, 1]")
	}
	if c.MalfunctionProbability < 0 || c.MalfunctionProbability > 1 {
		return bad("malfunction_probability", "must be within [0, 1]")
	}
	if c.IncidentsEnabled {
		if c.IncidentMin <= 0 {
			return bad("incident_min", "must be > 0")
		}
		if c.IncidentMax < c.IncidentMin {
			return bad("incident_max", "must be >= incident_min")
		}
		if c.MalfunctionMin <= 0 {
			return bad("malfunction_min", "must be > 0")
		}
		if c.MalfunctionMax < c.MalfunctionMin {
			return bad("malfunction_max", "must be >= malfunction_min")
		}
	}
	if c.StatsBucketTicks == 0 {
		return bad("stats_bucket_ticks", "must be > 0")
	}
	if c.StatsWindowTicks < c.StatsBucketTicks {
		return bad("stats_window_ticks", "must be >= stats_bucket_ticks")
	}
	return nil
}

func (c WorldConfig) conflicts() (traffic.ConflictTable, error) {
	switch c.Topology {
	case TopologyFourWay, "":
		return traffic.FourWayConflicts(), nil
	case TopologyExclusive:
		return traffic.ExclusiveConflicts(), nil
	}
	return traffic.ConflictTable{}, &traffic.ConfigError{Field: "topology", Reason: fmt.Sprintf("unknown topology %q", c.Topology)}
}

// TickDuration is the nominal simulated time of one tick.
func (c WorldConfig) TickDuration() time.Duration {
	if c.TickRateHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(c.TickRateHz) * c.TimeScale)
}

func clampScale(s float64) float64 {
	if s < MinTimeScale {
		return MinTimeScale
	}
	if s > MaxTimeScale {
		return MaxTimeScale
	}
	return s
}
