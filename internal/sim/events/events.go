package events

import (
	"fmt"
	"time"

	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/weather"
)

// Priority orders events due on the same tick; lower runs first.
type Priority uint8

const (
	PriorityEmergency Priority = iota
	PriorityWeather
	PriorityRushHour
	PriorityMalfunction
	PriorityIncident
)

// Source records who put an event on the queue. Only generated events
// schedule a follow-up when drained.
type Source uint8

const (
	Generated Source = iota
	Retry
	Injected
)

func (s Source) String() string {
	switch s {
	case Generated:
		return "generated"
	case Retry:
		return "retry"
	case Injected:
		return "injected"
	default:
		return fmt.Sprintf("Source(%d)", uint8(s))
	}
}

// Event is one of EmergencyDispatch, WeatherChange, RushHourToggle,
// TrafficIncident or TrafficLightMalfunction.
type Event interface {
	isEvent()
	Priority() Priority
	Name() string
}

// EmergencyDispatch sends an emergency vehicle down one approach and asks
// the intersection to hold it Green for PriorityDuration.
type EmergencyDispatch struct {
	Intersection     int              `json:"intersection"`
	Approach         traffic.Approach `json:"approach"`
	PriorityDuration time.Duration    `json:"priority_duration"`
	// Attempts counts how many ticks the dispatch has been retried.
	Attempts int `json:"attempts,omitempty"`
}

func (EmergencyDispatch) isEvent()           {}
func (EmergencyDispatch) Priority() Priority { return PriorityEmergency }
func (EmergencyDispatch) Name() string       { return "EMERGENCY_DISPATCH" }

func (e EmergencyDispatch) String() string {
	return fmt.Sprintf("emergency i%d/%s for %s", e.Intersection, e.Approach, e.PriorityDuration)
}

type WeatherChange struct {
	Next weather.Change `json:"next"`
}

func (WeatherChange) isEvent()           {}
func (WeatherChange) Priority() Priority { return PriorityWeather }
func (WeatherChange) Name() string       { return "WEATHER_CHANGE" }

type RushHourToggle struct {
	Active          bool    `json:"active"`
	SpawnMultiplier float64 `json:"spawn_multiplier"`
}

func (RushHourToggle) isEvent()           {}
func (RushHourToggle) Priority() Priority { return PriorityRushHour }
func (RushHourToggle) Name() string       { return "RUSH_HOUR_TOGGLE" }

// TrafficIncident blocks an intersection for Duration. Its efficiency
// score is capped while the incident is open.
type TrafficIncident struct {
	Intersection int           `json:"intersection"`
	Duration     time.Duration `json:"duration"`
}

func (TrafficIncident) isEvent()           {}
func (TrafficIncident) Priority() Priority { return PriorityIncident }
func (TrafficIncident) Name() string       { return "TRAFFIC_INCIDENT" }

func (e TrafficIncident) String() string {
	return fmt.Sprintf("incident i%d for %s", e.Intersection, e.Duration)
}

// TrafficLightMalfunction takes the signals of an intersection out of
// service for Duration. Every light shows Red until it recovers.
type TrafficLightMalfunction struct {
	Intersection int           `json:"intersection"`
	Duration     time.Duration `json:"duration"`
}

func (TrafficLightMalfunction) isEvent()           {}
func (TrafficLightMalfunction) Priority() Priority { return PriorityMalfunction }
func (TrafficLightMalfunction) Name() string       { return "LIGHT_MALFUNCTION" }

func (e TrafficLightMalfunction) String() string {
	return fmt.Sprintf("malfunction i%d for %s", e.Intersection, e.Duration)
}

// Scheduled is an event waiting in the queue.
type Scheduled struct {
	Event  Event
	Due    uint64
	Seq    uint64
	Source Source
}
