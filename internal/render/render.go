// Package render draws world snapshots as plain text for a terminal.
package render

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/world"
)

const (
	arm  = 6
	side = 2*arm + 2
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiDim    = "\x1b[2m"
	ansiHome   = "\x1b[H"
	ansiClear  = "\x1b[J"
)

type Options struct {
	// Color enables ANSI colors and cursor control. New sets it when out
	// is a terminal.
	Color bool
	Lane  traffic.LaneGeometry
}

// Renderer keeps the last frame it wrote and skips repaints when the next
// composed frame is identical.
type Renderer struct {
	out  io.Writer
	opts Options

	prev    []byte
	drawn   uint64
	skipped uint64
}

func New(out io.Writer, lane traffic.LaneGeometry) *Renderer {
	return NewWithOptions(out, Options{Color: IsTerminal(out), Lane: lane})
}

func NewWithOptions(out io.Writer, opts Options) *Renderer {
	if opts.Lane.Exit <= opts.Lane.StopLine || opts.Lane.StopLine <= 0 {
		opts.Lane = world.DefaultConfig().Lane
	}
	return &Renderer{out: out, opts: opts}
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Draw writes the frame for snap unless it matches the previous one. It
// reports whether anything was written.
func (r *Renderer) Draw(snap world.Snapshot) (bool, error) {
	frame := []byte(r.Compose(snap))
	if bytes.Equal(frame, r.prev) {
		r.skipped++
		return false, nil
	}
	var buf bytes.Buffer
	if r.opts.Color {
		buf.WriteString(ansiHome)
		buf.Write(frame)
		buf.WriteString(ansiClear)
	} else {
		buf.Write(frame)
		buf.WriteByte('\n')
	}
	if _, err := r.out.Write(buf.Bytes()); err != nil {
		return false, err
	}
	r.prev = frame
	r.drawn++
	return true, nil
}

func (r *Renderer) Frames() (drawn, skipped uint64) { return r.drawn, r.skipped }

// Compose builds the text of one frame.
func (r *Renderer) Compose(snap world.Snapshot) string {
	var b strings.Builder
	b.WriteString(r.statusLine(snap))
	b.WriteByte('\n')

	crosses := make([][side][side]string, len(snap.Intersections))
	for i := range snap.Intersections {
		crosses[i] = r.cross(snap, i)
	}
	for i, in := range snap.Intersections {
		if i > 0 {
			b.WriteString("  ")
		}
		label := fmt.Sprintf("#%d eff %3.0f%%", in.ID, in.Efficiency)
		if in.Override {
			label += " !"
		}
		b.WriteString(pad(label, side))
	}
	b.WriteByte('\n')
	for i, in := range snap.Intersections {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(r.tags(in))
	}
	b.WriteByte('\n')
	for row := 0; row < side; row++ {
		for i := range crosses {
			if i > 0 {
				b.WriteString("  ")
			}
			for col := 0; col < side; col++ {
				b.WriteString(crosses[i][row][col])
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString(r.statsPanel(snap))
	return b.String()
}

// tags marks faults and incidents ahead of the congestion grade, cut to
// the width of one cross.
func (r *Renderer) tags(in world.IntersectionView) string {
	var parts []string
	if in.Malfunction {
		parts = append(parts, "FAULT")
	}
	if in.Incident {
		parts = append(parts, "INC")
	}
	parts = append(parts, in.Congestion.String())
	s := pad(strings.Join(parts, " "), side)
	if in.Malfunction || in.Incident {
		return r.paint(ansiRed, s)
	}
	return s
}

func (r *Renderer) statusLine(snap world.Snapshot) string {
	w := snap.Weather
	weatherPart := fmt.Sprintf("Weather %s %.0f%%", w.Kind, w.Intensity*100)
	if w.Clearing {
		weatherPart += " (clearing)"
	}
	parts := []string{
		weatherPart,
		fmt.Sprintf("speed x%.2f", w.SpeedMultiplier()),
	}
	if snap.RushHour {
		parts = append(parts, fmt.Sprintf("RUSH HOUR x%.1f", snap.SpawnMul))
	}
	parts = append(parts,
		fmt.Sprintf("time x%.1f", snap.TimeScale),
		fmt.Sprintf("density x%.1f", snap.Density),
	)
	if snap.Paused {
		parts = append(parts, r.paint(ansiYellow, "PAUSED"))
	}
	return strings.Join(parts, "  ")
}

func (r *Renderer) statsPanel(snap world.Snapshot) string {
	win := snap.Window
	lines := []string{
		fmt.Sprintf("tick %s  sim %s  vehicles %s  pending events %d",
			humanize.Comma(int64(snap.Tick)), snap.SimTime.Truncate(100*time.Millisecond), humanize.Comma(int64(len(snap.Vehicles))), snap.PendingEvents),
		fmt.Sprintf("last %d ticks: spawned %s  exited %s  avg wait %ss  rejected %s",
			snap.WindowTicks, humanize.Comma(int64(win.Spawned)), humanize.Comma(int64(win.Exited)), humanize.CommafWithDigits(win.AverageWait(), 1), humanize.Comma(int64(win.CapacityRejected))),
		fmt.Sprintf("collisions %s  near misses %s  overrides %d/%d  emergencies %d  light changes %s",
			humanize.Comma(int64(win.Collisions)), humanize.Comma(int64(win.NearMisses)), win.OverridesGranted, win.OverridesDenied, win.EmergencyDispatches, humanize.Comma(int64(win.LightChanges))),
		fmt.Sprintf("cars %d  trucks %d  emergency %d  peak queue %d (%s)  peak wait %ss  incidents %d  faults %d",
			win.SpawnedByKind[traffic.Car], win.SpawnedByKind[traffic.Truck], win.SpawnedByKind[traffic.Emergency],
			win.PeakQueue, win.Congestion(), humanize.CommafWithDigits(win.PeakWaitSeconds, 1), win.Incidents, win.Malfunctions),
		fmt.Sprintf("efficiency %.0f%% %s", win.AverageEfficiency(), sparkline(snap.EfficiencyTrend)),
	}
	return strings.Join(lines, "\n") + "\n"
}

func (r *Renderer) cross(snap world.Snapshot, idx int) [side][side]string {
	var g [side][side]string
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			g[row][col] = " "
			if row == arm || row == arm+1 || col == arm || col == arm+1 {
				g[row][col] = r.paint(ansiDim, ".")
			}
		}
	}

	in := snap.Intersections[idx]
	for _, a := range traffic.Approaches {
		row, col := lightCell(a)
		g[row][col] = r.light(in.Lights[a])
	}

	for _, v := range snap.Vehicles {
		if v.Intersection != in.ID {
			continue
		}
		row, col := laneCell(v.Approach, r.step(v.Position))
		g[row][col] = r.vehicle(v)
	}
	return g
}

// step maps a lane position to a cell index along the direction of travel.
// The stop line falls on the last cell before the box.
func (r *Renderer) step(pos float64) int {
	stop, exit := r.opts.Lane.StopLine, r.opts.Lane.Exit
	var k int
	if pos < stop {
		k = int(pos / stop * arm)
		if k > arm-1 {
			k = arm - 1
		}
	} else {
		k = arm + int((pos-stop)/(exit-stop)*(arm+2))
	}
	if k < 0 {
		k = 0
	}
	if k > side-1 {
		k = side - 1
	}
	return k
}

// laneCell places step k of an approach on the grid. Traffic keeps right:
// southbound runs down the left column, northbound up the right one.
func laneCell(a traffic.Approach, k int) (row, col int) {
	switch a {
	case traffic.North:
		return k, arm
	case traffic.South:
		return side - 1 - k, arm + 1
	case traffic.West:
		return arm + 1, k
	default:
		return arm, side - 1 - k
	}
}

func lightCell(a traffic.Approach) (row, col int) {
	switch a {
	case traffic.North:
		return arm - 1, arm - 1
	case traffic.South:
		return arm + 2, arm + 2
	case traffic.West:
		return arm + 2, arm - 1
	default:
		return arm - 1, arm + 2
	}
}

func (r *Renderer) light(l world.LightView) string {
	switch l.Phase {
	case traffic.Green:
		return r.paintOr(ansiGreen, "●", "G")
	case traffic.Yellow:
		return r.paintOr(ansiYellow, "●", "Y")
	default:
		return r.paintOr(ansiRed, "●", "R")
	}
}

var (
	carGlyphs   = [traffic.NumApproaches]string{"v", "<", "^", ">"}
	truckGlyphs = [traffic.NumApproaches]string{"▼", "◄", "▲", "►"}
)

func (r *Renderer) vehicle(v world.VehicleView) string {
	if v.State == traffic.Parked {
		return "P"
	}
	if !v.Approach.Valid() {
		return "?"
	}
	switch v.Kind {
	case traffic.Emergency:
		return r.paint(ansiBlue, "*")
	case traffic.Truck:
		return truckGlyphs[v.Approach]
	default:
		return carGlyphs[v.Approach]
	}
}

func (r *Renderer) paint(code, s string) string {
	if !r.opts.Color {
		return s
	}
	return code + s + ansiReset
}

func (r *Renderer) paintOr(code, colored, plain string) string {
	if !r.opts.Color {
		return plain
	}
	return code + colored + ansiReset
}

var sparks = []rune(" ▁▂▃▄▅▆▇█")

// sparkline draws efficiency scores in [0, 110] one rune each.
func sparkline(trend []float64) string {
	out := make([]rune, len(trend))
	for i, v := range trend {
		k := int(v / traffic.MaxEfficiency * float64(len(sparks)-1))
		if k < 0 {
			k = 0
		}
		if k > len(sparks)-1 {
			k = len(sparks) - 1
		}
		out[i] = sparks[k]
	}
	return string(out)
}

// pad right-fills s to n runes, cutting longer strings.
func pad(s string, n int) string {
	rs := []rune(s)
	if len(rs) > n {
		return string(rs[:n])
	}
	return s + strings.Repeat(" ", n-len(rs))
}
