package observerproto

import "termtraffic.dev/internal/sim/world"

// Version is the observer protocol version.
const Version = "1.0"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// EveryTicks thins the stream to one snapshot per N ticks.
	EveryTicks      int  `json:"every_ticks,omitempty"`
	IncludeVehicles bool `json:"include_vehicles,omitempty"`
	IncludeEvents   bool `json:"include_events,omitempty"`
}

// Client -> Server. Steers the running simulation.
type ControlMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`

	// Action is one of pause, resume, emergency, weather, time_scale,
	// density, incident, malfunction, shutdown.
	Action string `json:"action"`

	Intersection *int    `json:"intersection,omitempty"`
	Approach     string  `json:"approach,omitempty"`
	DurationMs   int     `json:"duration_ms,omitempty"`
	Weather      string  `json:"weather,omitempty"`
	Intensity    float64 `json:"intensity,omitempty"`
	Scale        float64 `json:"scale,omitempty"`
	Factor       float64 `json:"factor,omitempty"`
}

// Server -> Client. Answers every CONTROL message.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Accepted        bool   `json:"accepted"`
	Error           string `json:"error,omitempty"`
}

// Server -> Client. Sent for every published tick that passes the
// subscription's filter.
type TickMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Snapshot        world.Snapshot `json:"snapshot"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	RunID           string      `json:"run_id"`
	Tick            uint64      `json:"tick"`
	Params          WorldParams `json:"params"`
}

type WorldParams struct {
	TickRateHz    int     `json:"tick_rate_hz"`
	Intersections int     `json:"intersections"`
	Seed          int64   `json:"seed"`
	MaxVehicles   int     `json:"max_vehicles"`
	StopLine      float64 `json:"stop_line"`
	LaneExit      float64 `json:"lane_exit"`
	FixedStep     bool    `json:"fixed_step"`
}
