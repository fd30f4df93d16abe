package world

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Vehicles  int     `json:"vehicles"`
	Paused    bool    `json:"paused"`
	TimeScale float64 `json:"time_scale"`
	Density   float64 `json:"density"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS     float64 `json:"step_ms"`
	SimSeconds float64 `json:"sim_seconds"`

	StatsWindowTicks uint64      `json:"stats_window_ticks"`
	StatsWindow      StatsBucket `json:"stats_window"`

	Weather          string  `json:"weather"`
	WeatherIntensity float64 `json:"weather_intensity"`
	OverridesActive  int     `json:"overrides_active"`
	RushHour         bool    `json:"rush_hour"`
}

type QueueDepths struct {
	Commands int `json:"commands"`
	Events   int `json:"events"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}
