package tuning

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/world"
)

// Tuning is the on-disk form of a simulation configuration. Durations are
// stored in milliseconds so the file stays plain numbers.
type Tuning struct {
	Seed          int64   `yaml:"seed"`
	TickRateHz    int     `yaml:"tick_rate_hz"`
	TimeScale     float64 `yaml:"time_scale"`
	MaxStepMs     int     `yaml:"max_step_ms"`
	FixedStep     bool    `yaml:"fixed_step"`
	AutoStart     bool    `yaml:"auto_start"`
	Intersections int     `yaml:"intersections"`
	Topology      string  `yaml:"topology"`
	RoadCapacity  int     `yaml:"road_capacity"`

	Lights    Lights    `yaml:"lights"`
	Lane      Lane      `yaml:"lane"`
	Vehicles  Vehicles  `yaml:"vehicles"`
	Emergency Emergency `yaml:"emergency"`
	Weather   Weather   `yaml:"weather"`
	RushHour  RushHour  `yaml:"rush_hour"`
	Incidents Incidents `yaml:"incidents"`
	Stats     Stats     `yaml:"stats"`
}

type Lights struct {
	RedMs    int `yaml:"red_ms"`
	YellowMs int `yaml:"yellow_ms"`
	GreenMs  int `yaml:"green_ms"`
}

type Lane struct {
	StopLineM float64 `yaml:"stop_line_m"`
	ExitM     float64 `yaml:"exit_m"`
	MinGapM   float64 `yaml:"min_gap_m"`
	TTCMs     int     `yaml:"ttc_ms"`
}

type Vehicles struct {
	Max              int     `yaml:"max"`
	SpawnRate        float64 `yaml:"spawn_rate"`
	TruckProbability float64 `yaml:"truck_probability"`
}

type Emergency struct {
	Enabled     bool    `yaml:"enabled"`
	Probability float64 `yaml:"probability"`
	OverrideMs  int     `yaml:"override_ms"`
}

type Weather struct {
	Enabled     bool   `yaml:"enabled"`
	EveryTicks  uint64 `yaml:"every_ticks"`
	JitterTicks uint64 `yaml:"jitter_ticks"`
	RampMs      int    `yaml:"ramp_ms"`
}

type RushHour struct {
	EveryTicks  uint64  `yaml:"every_ticks"`
	JitterTicks uint64  `yaml:"jitter_ticks"`
	Multiplier  float64 `yaml:"multiplier"`
}

// Incidents covers both road incidents and signal malfunctions.
type Incidents struct {
	Enabled                bool    `yaml:"enabled"`
	Probability            float64 `yaml:"probability"`
	MinMs                  int     `yaml:"min_ms"`
	MaxMs                  int     `yaml:"max_ms"`
	MalfunctionProbability float64 `yaml:"malfunction_probability"`
	MalfunctionMinMs       int     `yaml:"malfunction_min_ms"`
	MalfunctionMaxMs       int     `yaml:"malfunction_max_ms"`
}

type Stats struct {
	BucketTicks uint64 `yaml:"bucket_ticks"`
	WindowTicks uint64 `yaml:"window_ticks"`
}

// Defaults mirrors world.DefaultConfig.
func Defaults() Tuning { return FromWorldConfig(world.DefaultConfig()) }

func FromWorldConfig(c world.WorldConfig) Tuning {
	return Tuning{
		Seed:          c.Seed,
		TickRateHz:    c.TickRateHz,
		TimeScale:     c.TimeScale,
		MaxStepMs:     ms(c.MaxStep),
		FixedStep:     c.FixedStep,
		AutoStart:     c.AutoStart,
		Intersections: c.Intersections,
		Topology:      c.Topology,
		RoadCapacity:  c.RoadCapacity,
		Lights: Lights{
			RedMs:    ms(c.Durations.Red),
			YellowMs: ms(c.Durations.Yellow),
			GreenMs:  ms(c.Durations.Green),
		},
		Lane: Lane{
			StopLineM: c.Lane.StopLine,
			ExitM:     c.Lane.Exit,
			MinGapM:   c.Follow.MinGap,
			TTCMs:     ms(c.Follow.TTC),
		},
		Vehicles: Vehicles{
			Max:              c.MaxVehicles,
			SpawnRate:        c.SpawnRate,
			TruckProbability: c.TruckProbability,
		},
		Emergency: Emergency{
			Enabled:     c.EmergencyEnabled,
			Probability: c.EmergencyProbability,
			OverrideMs:  ms(c.OverrideDuration),
		},
		Weather: Weather{
			Enabled:     c.WeatherEnabled,
			EveryTicks:  c.WeatherEvery,
			JitterTicks: c.WeatherJitter,
			RampMs:      ms(c.WeatherRamp),
		},
		RushHour: RushHour{
			EveryTicks:  c.RushHourEvery,
			JitterTicks: c.RushHourJitter,
			Multiplier:  c.RushHourMultiplier,
		},
		Incidents: Incidents{
			Enabled:                c.IncidentsEnabled,
			Probability:            c.IncidentProbability,
			MinMs:                  ms(c.IncidentMin),
			MaxMs:                  ms(c.IncidentMax),
			MalfunctionProbability: c.MalfunctionProbability,
			MalfunctionMinMs:       ms(c.MalfunctionMin),
			MalfunctionMaxMs:       ms(c.MalfunctionMax),
		},
		Stats: Stats{
			BucketTicks: c.StatsBucketTicks,
			WindowTicks: c.StatsWindowTicks,
		},
	}
}

// WorldConfig converts t into an engine configuration. The result is not
// validated; world.New does that.
func (t Tuning) WorldConfig() world.WorldConfig {
	return world.WorldConfig{
		Seed:          t.Seed,
		TickRateHz:    t.TickRateHz,
		TimeScale:     t.TimeScale,
		MaxStep:       msDur(t.MaxStepMs),
		FixedStep:     t.FixedStep,
		AutoStart:     t.AutoStart,
		Intersections: t.Intersections,
		Topology:      t.Topology,
		Durations: traffic.Durations{
			Red:    msDur(t.Lights.RedMs),
			Yellow: msDur(t.Lights.YellowMs),
			Green:  msDur(t.Lights.GreenMs),
		},
		RoadCapacity: t.RoadCapacity,
		Lane:         traffic.LaneGeometry{StopLine: t.Lane.StopLineM, Exit: t.Lane.ExitM},
		Follow:       traffic.FollowParams{MinGap: t.Lane.MinGapM, TTC: msDur(t.Lane.TTCMs)},

		MaxVehicles:      t.Vehicles.Max,
		SpawnRate:        t.Vehicles.SpawnRate,
		TruckProbability: t.Vehicles.TruckProbability,

		EmergencyEnabled:     t.Emergency.Enabled,
		EmergencyProbability: t.Emergency.Probability,
		OverrideDuration:     msDur(t.Emergency.OverrideMs),

		WeatherEnabled: t.Weather.Enabled,
		WeatherEvery:   t.Weather.EveryTicks,
		WeatherJitter:  t.Weather.JitterTicks,
		WeatherRamp:    msDur(t.Weather.RampMs),

		RushHourEvery:      t.RushHour.EveryTicks,
		RushHourJitter:     t.RushHour.JitterTicks,
		RushHourMultiplier: t.RushHour.Multiplier,

		IncidentsEnabled:       t.Incidents.Enabled,
		IncidentProbability:    t.Incidents.Probability,
		IncidentMin:            msDur(t.Incidents.MinMs),
		IncidentMax:            msDur(t.Incidents.MaxMs),
		MalfunctionProbability: t.Incidents.MalfunctionProbability,
		MalfunctionMin:         msDur(t.Incidents.MalfunctionMinMs),
		MalfunctionMax:         msDur(t.Incidents.MalfunctionMaxMs),

		StatsBucketTicks: t.Stats.BucketTicks,
		StatsWindowTicks: t.Stats.WindowTicks,
	}
}

// Load reads a tuning file. Keys that are absent keep their default value.
func Load(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, err
	}
	t, err := Parse(raw)
	if err != nil {
		return Tuning{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse validates raw against the embedded schema and decodes it over
// Defaults.
func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if len(bytes.TrimSpace(raw)) == 0 {
		return t, nil
	}
	if err := validateSchema(raw); err != nil {
		return t, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return t, fmt.Errorf("tuning: %w", err)
	}
	return t, nil
}

// Marshal renders t as YAML.
func (t Tuning) Marshal() ([]byte, error) { return yaml.Marshal(t) }

func ms(d time.Duration) int    { return int(d / time.Millisecond) }
func msDur(n int) time.Duration { return time.Duration(n) * time.Millisecond }
