package tuning

import (
	"fmt"
	"sort"
)

// spawnUnit converts a preset's relative spawn rate into vehicles per
// second per approach; 1.0 is the default density.
const spawnUnit = 0.4

type preset struct {
	tickRate    int
	maxVehicles int
	spawn       float64
	timeScale   float64
	weather     bool
	emergency   bool
	incidents   bool
	fixedStep   bool
}

var presets = map[string]preset{
	"demo":        {tickRate: 30, maxVehicles: 50, spawn: 0.8, timeScale: 1.5, weather: true, emergency: true, incidents: true},
	"performance": {tickRate: 60, maxVehicles: 200, spawn: 1.5, timeScale: 1, emergency: true, incidents: true},
	"debug":       {tickRate: 15, maxVehicles: 20, spawn: 0.2, timeScale: 0.5, weather: true, emergency: true, fixedStep: true},
	"lowend":      {tickRate: 20, maxVehicles: 30, spawn: 0.3, timeScale: 1, emergency: true},
	"highend":     {tickRate: 60, maxVehicles: 300, spawn: 2, timeScale: 1, weather: true, emergency: true, incidents: true},
	"educational": {tickRate: 20, maxVehicles: 40, spawn: 0.5, timeScale: 0.8, weather: true, emergency: true},
}

// PresetNames lists the named presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Preset returns Defaults with the named preset applied.
func Preset(name string) (Tuning, error) {
	p, ok := presets[name]
	if !ok {
		return Tuning{}, fmt.Errorf("tuning: unknown preset %q (want one of %v)", name, PresetNames())
	}
	t := Defaults()
	t.TickRateHz = p.tickRate
	t.TimeScale = p.timeScale
	t.FixedStep = p.fixedStep
	t.Vehicles.Max = p.maxVehicles
	t.Vehicles.SpawnRate = p.spawn * spawnUnit
	t.Weather.Enabled = p.weather
	t.Emergency.Enabled = p.emergency
	t.Incidents.Enabled = p.incidents
	return t, nil
}
