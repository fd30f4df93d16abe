package render

import (
	"bytes"
	"strings"
	"testing"

	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/weather"
	"termtraffic.dev/internal/sim/world"
)

func plainRenderer(out *bytes.Buffer) *Renderer {
	return NewWithOptions(out, Options{Lane: traffic.LaneGeometry{StopLine: 60, Exit: 100}})
}

func sampleSnapshot() world.Snapshot {
	in := world.IntersectionView{ID: 0, Efficiency: 50}
	for _, a := range traffic.Approaches {
		in.Lights[a] = world.LightView{Approach: a, Phase: traffic.Red}
	}
	in.Lights[traffic.North].Phase = traffic.Green
	return world.Snapshot{
		Tick:          1234,
		TimeScale:     1,
		Density:       1,
		Weather:       weather.State{Kind: weather.Rain, Intensity: 0.5},
		Intersections: []world.IntersectionView{in},
		Vehicles: []world.VehicleView{
			{ID: 1, Kind: traffic.Car, Intersection: 0, Approach: traffic.North, Position: 30},
			{ID: 2, Kind: traffic.Truck, Intersection: 0, Approach: traffic.East, Position: 0},
			{ID: 3, Kind: traffic.Emergency, Intersection: 0, Approach: traffic.South, Position: 70},
		},
	}
}

// gridRow returns grid row n, below the status, label and tag lines.
func gridRow(t *testing.T, frame string, row int) []rune {
	t.Helper()
	lines := strings.Split(frame, "\n")
	if len(lines) <= row+3 {
		t.Fatalf("frame has %d lines, want more than %d", len(lines), row+3)
	}
	return []rune(lines[row+3])
}

func TestCompose_PlacesLightsAndVehicles(t *testing.T) {
	var out bytes.Buffer
	frame := plainRenderer(&out).Compose(sampleSnapshot())

	if !strings.HasPrefix(frame, "Weather RAIN 50%") {
		t.Fatalf("status line: %q", strings.SplitN(frame, "\n", 2)[0])
	}
	for _, want := range []string{"#0 eff  50%", "NONE", "tick 1,234"} {
		if !strings.Contains(frame, want) {
			t.Fatalf("frame lacks %q:\n%s", want, frame)
		}
	}
	if strings.Contains(frame, "\x1b[") {
		t.Fatalf("plain frame has escape codes")
	}

	if got := gridRow(t, frame, 3)[arm]; got != 'v' {
		t.Fatalf("row 3 col %d = %q", arm, got)
	}
	row5 := gridRow(t, frame, 5)
	if row5[arm-1] != 'G' || row5[arm+1] != '*' || row5[arm+2] != 'R' {
		t.Fatalf("row 5 = %q", string(row5))
	}
	if got := gridRow(t, frame, arm)[side-1]; got != '◄' {
		t.Fatalf("truck cell = %q", got)
	}
}

func TestCompose_SideBySideIntersections(t *testing.T) {
	snap := sampleSnapshot()
	second := snap.Intersections[0]
	second.ID = 1
	second.Override = true
	snap.Intersections = append(snap.Intersections, second)

	frame := plainRenderer(&bytes.Buffer{}).Compose(snap)
	if !strings.Contains(frame, "#1 eff  50% !") {
		t.Fatalf("override label missing:\n%s", frame)
	}
	// Vehicles at intersection 0 only show on the first cross.
	row := gridRow(t, frame, 3)
	if len(row) != 2*side+2 {
		t.Fatalf("row width %d want %d", len(row), 2*side+2)
	}
	if row[arm] != 'v' || row[side+2+arm] != '.' {
		t.Fatalf("row 3 = %q", string(row))
	}
}

func TestCompose_IncidentAndFaultTags(t *testing.T) {
	snap := sampleSnapshot()
	snap.Intersections[0].Incident = true
	snap.Intersections[0].Malfunction = true
	snap.Intersections[0].Congestion = traffic.CongestionHeavy
	snap.Weather.Clearing = true
	snap.Window = world.StatsBucket{Exited: 4, ExitWaitSeconds: 10, PeakQueue: 12, Incidents: 1, Malfunctions: 2}
	snap.Window.SpawnedByKind[traffic.Truck] = 3
	snap.EfficiencyTrend = []float64{0, 55, 110}

	frame := plainRenderer(&bytes.Buffer{}).Compose(snap)
	tags := strings.Split(frame, "\n")[2]
	if tags != pad("FAULT INC HEAVY", side) {
		t.Fatalf("tag line %q", tags)
	}
	for _, want := range []string{
		"(clearing)",
		"avg wait 2.5s",
		"trucks 3",
		"peak queue 12 (HEAVY)",
		"incidents 1  faults 2",
		"efficiency 0%  ▄█",
	} {
		if !strings.Contains(frame, want) {
			t.Fatalf("frame lacks %q:\n%s", want, frame)
		}
	}
}

func TestDraw_SkipsUnchangedFrames(t *testing.T) {
	var out bytes.Buffer
	r := plainRenderer(&out)
	snap := sampleSnapshot()

	if wrote, err := r.Draw(snap); err != nil || !wrote {
		t.Fatalf("first draw: wrote=%t err=%v", wrote, err)
	}
	n := out.Len()

	if wrote, err := r.Draw(snap); err != nil || wrote {
		t.Fatalf("repeat draw: wrote=%t err=%v", wrote, err)
	}
	if out.Len() != n {
		t.Fatalf("repeat draw wrote %d bytes", out.Len()-n)
	}

	snap.Vehicles[0].Position = 50
	if wrote, err := r.Draw(snap); err != nil || !wrote {
		t.Fatalf("changed draw: wrote=%t err=%v", wrote, err)
	}

	if drawn, skipped := r.Frames(); drawn != 2 || skipped != 1 {
		t.Fatalf("drawn=%d skipped=%d", drawn, skipped)
	}
}

func TestColorFrameUsesCursorControl(t *testing.T) {
	var out bytes.Buffer
	r := NewWithOptions(&out, Options{Color: true})
	snap := sampleSnapshot()
	snap.Paused = true
	if _, err := r.Draw(snap); err != nil {
		t.Fatalf("draw: %v", err)
	}
	s := out.String()
	if !strings.HasPrefix(s, ansiHome) || !strings.Contains(s, ansiGreen+"●"+ansiReset) || !strings.Contains(s, "PAUSED") {
		t.Fatalf("color frame %q", s)
	}
}

func TestStep(t *testing.T) {
	r := plainRenderer(&bytes.Buffer{})
	for pos, want := range map[float64]int{-3: 0, 59.9: arm - 1, 60: arm, 100: side - 1} {
		if got := r.step(pos); got != want {
			t.Fatalf("step(%v)=%d want %d", pos, got, want)
		}
	}
	if IsTerminal(&bytes.Buffer{}) {
		t.Fatalf("a buffer is not a terminal")
	}
}
