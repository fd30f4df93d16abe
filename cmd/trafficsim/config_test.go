package main

import (
	"os"
	"path/filepath"
	"testing"

	"termtraffic.dev/internal/sim/world"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestBuildConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	if err := os.WriteFile(path, []byte("seed: 5\nintersections: 1\nvehicles:\n  max: 30\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	o := overrides{
		set:       map[string]bool{"time_scale": true, "fixed_step": true},
		timeScale: 2,
		fixedStep: true,
		noWeather: true,
	}
	cfg, usedDefaults, err := buildConfig(path, true, o, env(map[string]string{"TT_MAX_VEHICLES": "12", "TT_SEED": "9"}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if usedDefaults {
		t.Fatalf("file was present")
	}
	if cfg.Seed != 9 || cfg.Intersections != 1 || cfg.MaxVehicles != 12 {
		t.Fatalf("file/env merge: seed=%d intersections=%d max=%d", cfg.Seed, cfg.Intersections, cfg.MaxVehicles)
	}
	if cfg.TimeScale != 2 || !cfg.FixedStep || cfg.WeatherEnabled || !cfg.AutoStart {
		t.Fatalf("flags: %+v", cfg)
	}

	// A flag beats the environment.
	o.set["seed"] = true
	o.seed = 77
	cfg, _, err = buildConfig(path, true, o, env(map[string]string{"TT_SEED": "9"}))
	if err != nil || cfg.Seed != 77 {
		t.Fatalf("seed=%d err=%v", cfg.Seed, err)
	}
}

func TestBuildConfig_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	cfg, usedDefaults, err := buildConfig(missing, false, overrides{}, env(nil))
	if err != nil {
		t.Fatalf("default path: %v", err)
	}
	if !usedDefaults || cfg.Seed != world.DefaultConfig().Seed {
		t.Fatalf("usedDefaults=%v seed=%d", usedDefaults, cfg.Seed)
	}
	if _, _, err := buildConfig(missing, true, overrides{}, env(nil)); err == nil {
		t.Fatalf("explicit missing config should fail")
	}
}

func TestBuildConfig_Invalid(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, _, err := buildConfig(missing, false, overrides{}, env(map[string]string{"TT_TICK_RATE": "fast"})); err == nil {
		t.Fatalf("bad env value should fail")
	}
	o := overrides{set: map[string]bool{"time_scale": true}, timeScale: 50}
	if _, _, err := buildConfig(missing, false, o, env(nil)); err == nil {
		t.Fatalf("time scale out of range should fail")
	}
}

func TestBuildConfig_Preset(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	o := overrides{preset: "performance", set: map[string]bool{"max_vehicles": true}, maxVehicles: 80}
	cfg, usedDefaults, err := buildConfig(missing, false, o, env(map[string]string{"TT_TIME_SCALE": "2"}))
	if err != nil {
		t.Fatalf("preset: %v", err)
	}
	if usedDefaults {
		t.Fatalf("a preset is not the fallback defaults")
	}
	if cfg.TickRateHz != 60 || cfg.WeatherEnabled || cfg.TimeScale != 2 || cfg.MaxVehicles != 80 {
		t.Fatalf("preset merge: %+v", cfg)
	}

	if _, _, err := buildConfig(missing, false, overrides{preset: "turbo"}, env(nil)); err == nil {
		t.Fatalf("unknown preset should fail")
	}
	if _, _, err := buildConfig(missing, true, overrides{preset: "demo"}, env(nil)); err == nil {
		t.Fatalf("-config with -preset should fail")
	}
}
