package tuning

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/world"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDefaults_RoundTripWorldConfig(t *testing.T) {
	if got, want := Defaults().WorldConfig(), world.DefaultConfig(); !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip:\n got %+v\nwant %+v", got, want)
	}
}

func TestLoad_RepoConfig(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "..", "configs", "trafficsim.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.Intersections != 2 {
		t.Fatalf("intersections=%d want 2", tu.Intersections)
	}

	cfg := tu.WorldConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Durations.Red != 10*time.Second || cfg.Follow.TTC != 2*time.Second {
		t.Fatalf("red=%s ttc=%s", cfg.Durations.Red, cfg.Follow.TTC)
	}
	if !cfg.IncidentsEnabled || cfg.IncidentMax != 2*time.Minute || cfg.MalfunctionMin != 15*time.Second {
		t.Fatalf("incidents: enabled=%t max=%s malfunction_min=%s", cfg.IncidentsEnabled, cfg.IncidentMax, cfg.MalfunctionMin)
	}
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	tu, err := Load(writeFile(t, "seed: 99\nlights:\n  green_ms: 5000\nincidents:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cfg := tu.WorldConfig()
	if cfg.Seed != 99 || cfg.Durations.Green != 5*time.Second {
		t.Fatalf("seed=%d green=%s", cfg.Seed, cfg.Durations.Green)
	}
	if cfg.Durations.Red != traffic.DefaultDurations.Red || cfg.SpawnRate != world.DefaultConfig().SpawnRate {
		t.Fatalf("defaults lost: red=%s spawn=%v", cfg.Durations.Red, cfg.SpawnRate)
	}
	if cfg.IncidentsEnabled || cfg.IncidentProbability != world.DefaultConfig().IncidentProbability {
		t.Fatalf("incidents: enabled=%t probability=%v", cfg.IncidentsEnabled, cfg.IncidentProbability)
	}
}

func TestLoad_CommentOnlyFile(t *testing.T) {
	tu, err := Load(writeFile(t, "# nothing here\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(tu, Defaults()) {
		t.Fatalf("got %+v", tu)
	}
}

func TestLoad_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":       "colour: red\n",
		"bad topology":      "topology: roundabout\n",
		"zero duration":     "lights:\n  red_ms: 0\n",
		"scale too high":    "time_scale: 9\n",
		"probability":       "vehicles:\n  truck_probability: 1.5\n",
		"wrong type":        "intersections: two\n",
		"incident key":      "incidents:\n  severity: 3\n",
		"malfunction range": "incidents:\n  malfunction_probability: -0.1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, body)); err == nil {
				t.Fatalf("expected %q to be rejected", body)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestMarshal_ParsesBack(t *testing.T) {
	tu := Defaults()
	tu.Seed = 7
	tu.Topology = world.TopologyExclusive
	tu.Incidents.MaxMs = 90000
	b, err := tu.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Parse(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got, tu) {
		t.Fatalf("parsed back:\n got %+v\nwant %+v", got, tu)
	}
}

func TestPreset_AllValidate(t *testing.T) {
	names := PresetNames()
	if len(names) != 6 || names[0] != "debug" {
		t.Fatalf("names=%v", names)
	}
	for _, name := range names {
		tu, err := Preset(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := tu.WorldConfig().Validate(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestPreset_Values(t *testing.T) {
	perf, err := Preset("performance")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if perf.TickRateHz != 60 || perf.Vehicles.Max != 200 || perf.Weather.Enabled {
		t.Fatalf("performance=%+v", perf)
	}
	if math.Abs(perf.Vehicles.SpawnRate-0.6) > 1e-9 {
		t.Fatalf("spawn=%v", perf.Vehicles.SpawnRate)
	}

	dbg, err := Preset("debug")
	if err != nil {
		t.Fatalf("debug: %v", err)
	}
	if dbg.TimeScale != 0.5 || !dbg.FixedStep || dbg.Incidents.Enabled {
		t.Fatalf("debug=%+v", dbg)
	}
	// Everything a preset does not name keeps its default.
	if dbg.Lights != Defaults().Lights || dbg.Seed != Defaults().Seed {
		t.Fatalf("debug changed unrelated keys: %+v", dbg)
	}
}

func TestPreset_Unknown(t *testing.T) {
	if _, err := Preset("turbo"); err == nil {
		t.Fatalf("expected an error for an unknown preset")
	}
}
