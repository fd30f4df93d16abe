package world

import "time"

// Clock turns wall time into simulated elapsed time for one tick:
// wall * scale, clamped to maxStep so a stall never becomes a burst of
// simulated time.
type Clock struct {
	nominal time.Duration
	scale   float64
	maxStep time.Duration
	fixed   bool

	last    time.Time
	simTime time.Duration
}

func NewClock(tickRateHz int, scale float64, maxStep time.Duration, fixed bool) *Clock {
	nominal := time.Second
	if tickRateHz > 0 {
		nominal = time.Second / time.Duration(tickRateHz)
	}
	return &Clock{nominal: nominal, scale: clampScale(scale), maxStep: maxStep, fixed: fixed}
}

// Reset forgets the previous tick time, e.g. after a pause.
func (c *Clock) Reset(now time.Time) { c.last = now }

// Elapsed returns the simulated time for a tick occurring at now.
func (c *Clock) Elapsed(now time.Time) time.Duration {
	var wall time.Duration
	switch {
	case c.fixed:
		wall = c.nominal
	case c.last.IsZero():
		wall = c.nominal
	default:
		wall = now.Sub(c.last)
	}
	c.last = now
	return c.Scaled(wall)
}

// Scaled applies the time scale and the max step clamp to a wall duration.
func (c *Clock) Scaled(wall time.Duration) time.Duration {
	if wall < 0 {
		wall = 0
	}
	d := time.Duration(float64(wall) * c.scale)
	if c.maxStep > 0 && d > c.maxStep {
		d = c.maxStep
	}
	return d
}

// SetScale clamps s into [MinTimeScale, MaxTimeScale] and returns what was
// applied.
func (c *Clock) SetScale(s float64) float64 {
	c.scale = clampScale(s)
	return c.scale
}

func (c *Clock) Scale() float64          { return c.scale }
func (c *Clock) Fixed() bool             { return c.fixed }
func (c *Clock) SimTime() time.Duration  { return c.simTime }
func (c *Clock) advance(d time.Duration) { c.simTime += d }
