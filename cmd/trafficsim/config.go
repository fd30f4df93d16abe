package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"termtraffic.dev/internal/sim/tuning"
	"termtraffic.dev/internal/sim/world"
)

// overrides holds flag values; set names the flags given on the command
// line so that defaults never shadow the config file.
type overrides struct {
	set map[string]bool

	preset        string
	seed          int64
	timeScale     float64
	maxVehicles   int
	spawnRate     float64
	intersections int
	noWeather     bool
	noEmergency   bool
	fixedStep     bool
}

// envKeys lists the environment overrides, applied after the file and
// before flags.
var envKeys = []string{"TT_SEED", "TT_TICK_RATE", "TT_TIME_SCALE", "TT_MAX_VEHICLES", "TT_SPAWN_RATE", "TT_ENABLE_WEATHER", "TT_ENABLE_EMERGENCY"}

// buildConfig merges the tuning file (or a named preset), the environment
// and flags into a validated world config. A missing file is only an error
// when the path was given explicitly.
func buildConfig(path string, pathSet bool, o overrides, getenv func(string) string) (world.WorldConfig, bool, error) {
	if o.preset != "" && pathSet {
		return world.WorldConfig{}, false, errors.New("-config and -preset are mutually exclusive")
	}
	var (
		tune tuning.Tuning
		err  error
	)
	usedDefaults := false
	if o.preset != "" {
		if tune, err = tuning.Preset(o.preset); err != nil {
			return world.WorldConfig{}, false, err
		}
	} else if tune, err = tuning.Load(path); err != nil {
		if pathSet || !errors.Is(err, fs.ErrNotExist) {
			return world.WorldConfig{}, false, fmt.Errorf("load config: %w", err)
		}
		tune = tuning.Defaults()
		usedDefaults = true
	}
	cfg := tune.WorldConfig()

	if err := applyEnv(&cfg, getenv); err != nil {
		return world.WorldConfig{}, usedDefaults, err
	}

	if o.set["seed"] {
		cfg.Seed = o.seed
	}
	if o.set["time_scale"] {
		cfg.TimeScale = o.timeScale
	}
	if o.set["max_vehicles"] {
		cfg.MaxVehicles = o.maxVehicles
	}
	if o.set["spawn_rate"] {
		cfg.SpawnRate = o.spawnRate
	}
	if o.set["intersections"] {
		cfg.Intersections = o.intersections
	}
	if o.noWeather {
		cfg.WeatherEnabled = false
	}
	if o.noEmergency {
		cfg.EmergencyEnabled = false
	}
	if o.set["fixed_step"] {
		cfg.FixedStep = o.fixedStep
	}
	cfg.AutoStart = true

	if err := cfg.Validate(); err != nil {
		return world.WorldConfig{}, usedDefaults, err
	}
	return cfg, usedDefaults, nil
}

func applyEnv(cfg *world.WorldConfig, getenv func(string) string) error {
	for _, key := range envKeys {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			continue
		}
		var err error
		switch key {
		case "TT_SEED":
			cfg.Seed, err = strconv.ParseInt(v, 10, 64)
		case "TT_TICK_RATE":
			cfg.TickRateHz, err = strconv.Atoi(v)
		case "TT_TIME_SCALE":
			cfg.TimeScale, err = strconv.ParseFloat(v, 64)
		case "TT_MAX_VEHICLES":
			cfg.MaxVehicles, err = strconv.Atoi(v)
		case "TT_SPAWN_RATE":
			cfg.SpawnRate, err = strconv.ParseFloat(v, 64)
		case "TT_ENABLE_WEATHER":
			cfg.WeatherEnabled, err = strconv.ParseBool(v)
		case "TT_ENABLE_EMERGENCY":
			cfg.EmergencyEnabled, err = strconv.ParseBool(v)
		}
		if err != nil {
			return fmt.Errorf("%s=%q: %w", key, v, err)
		}
	}
	return nil
}

func envBool(getenv func(string) string, key string, def bool) bool {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
