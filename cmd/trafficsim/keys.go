package main

import (
	"strings"

	"termtraffic.dev/internal/sim/weather"
	"termtraffic.dev/internal/sim/world"
)

var timeScalePresets = map[byte]float64{
	'1': 0.5,
	'2': 1,
	'3': 2,
	'4': 3,
	'5': 5,
}

const (
	densityUp   = 1.2
	densityDown = 0.8
)

const keyHelp = "keys: e emergency | i incident | m malfunction | r/s/f/c rain/snow/fog/clear | +/- density | 1-5 time scale | p pause | h help | q quit"

type keyAction struct {
	cmds []world.Command
	quit bool
	help bool
}

// parseKeys turns one line of keyboard input into world commands. Each
// character is a key; current is the most recent snapshot and decides the
// toggles.
func parseKeys(line string, current world.Snapshot) keyAction {
	var out keyAction
	paused := current.Paused
	kind := current.Weather.Heading()
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch strings.ToLower(string(c)) {
		case "q":
			out.quit = true
			return out
		case "h", "?":
			out.help = true
		case "e":
			out.cmds = append(out.cmds, world.DispatchEmergency{})
		case "i":
			out.cmds = append(out.cmds, world.TriggerIncident{Intersection: -1})
		case "m":
			out.cmds = append(out.cmds, world.TriggerMalfunction{Intersection: -1})
		case "r":
			kind = toggleWeather(&out, kind, weather.Rain)
		case "s":
			kind = toggleWeather(&out, kind, weather.Snow)
		case "f":
			kind = toggleWeather(&out, kind, weather.Fog)
		case "c":
			kind = weather.Clear
			out.cmds = append(out.cmds, world.SetWeather{Kind: weather.Clear})
		case "+":
			out.cmds = append(out.cmds, world.AdjustDensity{Factor: densityUp})
		case "-":
			out.cmds = append(out.cmds, world.AdjustDensity{Factor: densityDown})
		case "p", " ":
			if paused {
				out.cmds = append(out.cmds, world.Resume{})
			} else {
				out.cmds = append(out.cmds, world.Pause{})
			}
			paused = !paused
		default:
			if s, ok := timeScalePresets[c]; ok {
				out.cmds = append(out.cmds, world.SetTimeScale{Scale: s})
			}
		}
	}
	return out
}

// toggleWeather switches to k, or back to clear when k is already active.
func toggleWeather(out *keyAction, cur, k weather.Kind) weather.Kind {
	if cur == k {
		k = weather.Clear
	}
	out.cmds = append(out.cmds, world.SetWeather{Kind: k, Intensity: 0.7})
	return k
}
