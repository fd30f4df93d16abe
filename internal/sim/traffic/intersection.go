package traffic

import (
	"fmt"
	"time"
)

type VehicleID uint64

// Conditions is the part of the weather a signal or a vehicle reacts to.
type Conditions interface {
	SpeedMultiplier() float64
	VisibilityMultiplier() float64
}

// ClearConditions is full speed and full visibility.
type ClearConditions struct{}

func (ClearConditions) SpeedMultiplier() float64      { return 1 }
func (ClearConditions) VisibilityMultiplier() float64 { return 1 }

type IntersectionConfig struct {
	Durations    Durations
	RoadCapacity int
	Conflicts    ConflictTable
}

func (c IntersectionConfig) Validate() error {
	if err := c.Durations.Validate(); err != nil {
		return err
	}
	if c.RoadCapacity <= 0 {
		return &ConfigError{Field: "road_capacity", Reason: "must be > 0"}
	}
	return c.Conflicts.Validate()
}

const (
	// MaxEfficiency is the best score, reached only under an override.
	MaxEfficiency = 110.0
	// IncidentEfficiencyCap bounds the efficiency score while an incident
	// is open at the intersection.
	IncidentEfficiencyCap = 50.0
)

// LightEvent records one phase change at an intersection.
type LightEvent struct {
	Intersection int
	Approach     Approach
	From         Phase
	To           Phase
	Override     bool
}

// Intersection owns one light per approach and arbitrates them through the
// conflict table. It is not safe for concurrent use.
type Intersection struct {
	id        int
	lights    [NumApproaches]*TrafficLight
	conflicts ConflictTable
	capacity  int

	queues [NumApproaches][]VehicleID

	// overrides maps a favored approach to its remaining grant.
	overrides map[Approach]time.Duration
	// incident and malfunction are the time left on each; zero when clear.
	incident    time.Duration
	malfunction time.Duration

	throughput [NumApproaches]uint64
	waiting    [NumApproaches]int
	speed      float64
}

func NewIntersection(id int, cfg IntersectionConfig) (*Intersection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	in := &Intersection{
		id:        id,
		conflicts: cfg.Conflicts,
		capacity:  cfg.RoadCapacity,
		overrides: map[Approach]time.Duration{},
		speed:     1,
	}
	for _, a := range Approaches {
		l, err := NewTrafficLight(id*NumApproaches+int(a), cfg.Durations)
		if err != nil {
			return nil, err
		}
		in.lights[a] = l
	}
	// North/South start on Green; every approach conflicting with them
	// starts on Red.
	for _, a := range []Approach{North, South} {
		ok := true
		for _, b := range Approaches {
			if b != a && in.conflicts.Conflicts(a, b) && in.lights[b].phase == Green {
				ok = false
			}
		}
		if ok {
			in.lights[a].reset(Green)
		}
	}
	return in, nil
}

func (in *Intersection) ID() int                  { return in.id }
func (in *Intersection) Capacity() int            { return in.capacity }
func (in *Intersection) Conflicts() ConflictTable { return in.conflicts }

func (in *Intersection) Light(a Approach) *TrafficLight {
	if !a.Valid() {
		return nil
	}
	return in.lights[a]
}

func (in *Intersection) Phase(a Approach) Phase {
	if !a.Valid() {
		return Red
	}
	return in.lights[a].phase
}

// Advance runs one tick of signal timing. Transitions out of Green and
// Yellow happen first; a Red light due for Green is then granted only when
// no conflicting light is Green or Yellow and no conflicting light has been
// waiting longer. Ties go to the lower approach.
func (in *Intersection) Advance(elapsed time.Duration, cond Conditions) []LightEvent {
	if cond != nil {
		in.speed = cond.SpeedMultiplier()
	}
	var out []LightEvent
	for _, a := range Approaches {
		l := in.lights[a]
		from := l.phase
		l.accumulate(elapsed)
		if l.step(false) {
			out = append(out, LightEvent{Intersection: in.id, Approach: a, From: from, To: l.phase})
		}
	}
	for _, a := range Approaches {
		l := in.lights[a]
		w := l.waiting()
		if w < 0 || !in.mayGreen(a, w) {
			continue
		}
		if l.step(true) {
			out = append(out, LightEvent{Intersection: in.id, Approach: a, From: Red, To: Green})
		}
	}
	return out
}

func (in *Intersection) mayGreen(a Approach, waited time.Duration) bool {
	for _, b := range Approaches {
		if !in.conflicts.Conflicts(a, b) {
			continue
		}
		o := in.lights[b]
		if o.phase != Red {
			return false
		}
		ow := o.waiting()
		if ow > waited || (ow == waited && b < a) {
			return false
		}
	}
	return true
}

// RequestEmergencyOverride grants approach a priority for d. A grant is
// refused while any conflicting approach holds one; repeating a request on
// the same approach extends it instead of stacking. The favored light turns
// Green and every conflicting light turns Red within this call.
func (in *Intersection) RequestEmergencyOverride(a Approach, d time.Duration) ([]LightEvent, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("intersection %d: invalid approach %d", in.id, uint8(a))
	}
	if d <= 0 {
		return nil, &ConfigError{Field: "override_duration", Reason: "must be > 0"}
	}
	if in.malfunction > 0 {
		return nil, fmt.Errorf("intersection %d: %w", in.id, ErrSignalFault)
	}
	for _, b := range Approaches {
		if _, held := in.overrides[b]; held && in.conflicts.Conflicts(a, b) {
			return nil, &OverrideDeniedError{Intersection: in.id, Approach: a, HeldBy: b}
		}
	}
	if cur, ok := in.overrides[a]; !ok || d > cur {
		in.overrides[a] = d
	}

	var out []LightEvent
	for _, b := range Approaches {
		if !in.conflicts.Conflicts(a, b) {
			continue
		}
		if ev, ok := in.force(b, Red); ok {
			out = append(out, ev)
		}
	}
	if ev, ok := in.force(a, Green); ok {
		out = append(out, ev)
	}
	return out, nil
}

func (in *Intersection) force(a Approach, p Phase) (LightEvent, bool) {
	l := in.lights[a]
	from := l.phase
	if !l.force(p) {
		return LightEvent{}, false
	}
	return LightEvent{Intersection: in.id, Approach: a, From: from, To: p, Override: true}, true
}

// StartIncident caps the efficiency score for d. An incident already open
// is extended, never shortened.
func (in *Intersection) StartIncident(d time.Duration) error {
	if d <= 0 {
		return &ConfigError{Field: "incident_duration", Reason: "must be > 0"}
	}
	if d > in.incident {
		in.incident = d
	}
	return nil
}

// StartMalfunction holds every light Red for d. Emergency grants are
// cancelled and no new one is given until the signals recover.
func (in *Intersection) StartMalfunction(d time.Duration) ([]LightEvent, error) {
	if d <= 0 {
		return nil, &ConfigError{Field: "malfunction_duration", Reason: "must be > 0"}
	}
	if d > in.malfunction {
		in.malfunction = d
	}
	for a := range in.overrides {
		delete(in.overrides, a)
	}
	var out []LightEvent
	for _, a := range Approaches {
		if ev, ok := in.force(a, Red); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (in *Intersection) IncidentActive() bool    { return in.incident > 0 }
func (in *Intersection) MalfunctionActive() bool { return in.malfunction > 0 }

func (in *Intersection) IncidentRemaining() time.Duration    { return in.incident }
func (in *Intersection) MalfunctionRemaining() time.Duration { return in.malfunction }

// ReleaseExpiredOverrides counts grants, incidents and malfunctions down by
// elapsed and hands lights no longer held back to normal timing.
func (in *Intersection) ReleaseExpiredOverrides(elapsed time.Duration) []LightEvent {
	in.incident = countDown(in.incident, elapsed)
	in.malfunction = countDown(in.malfunction, elapsed)
	for _, a := range Approaches {
		rem, ok := in.overrides[a]
		if !ok {
			continue
		}
		rem -= elapsed
		if rem <= 0 {
			delete(in.overrides, a)
			continue
		}
		in.overrides[a] = rem
	}

	var out []LightEvent
	for _, a := range Approaches {
		l := in.lights[a]
		if !l.Overridden() || in.covered(a) {
			continue
		}
		from := l.phase
		if l.release() {
			out = append(out, LightEvent{Intersection: in.id, Approach: a, From: from, To: l.phase, Override: true})
		}
	}
	return out
}

func (in *Intersection) covered(a Approach) bool {
	if in.malfunction > 0 {
		return true
	}
	for b := range in.overrides {
		if b == a || in.conflicts.Conflicts(a, b) {
			return true
		}
	}
	return false
}

func countDown(rem, elapsed time.Duration) time.Duration {
	if rem -= elapsed; rem < 0 {
		return 0
	}
	return rem
}

func (in *Intersection) OverrideActive() bool { return len(in.overrides) > 0 }

// OverrideRemaining reports the grant left on a, if any.
func (in *Intersection) OverrideRemaining(a Approach) (time.Duration, bool) {
	d, ok := in.overrides[a]
	return d, ok
}

func (in *Intersection) CapacityAvailable(a Approach) bool {
	if !a.Valid() {
		return false
	}
	return len(in.queues[a]) < in.capacity
}

// Admit appends a vehicle at the back of the approach queue.
func (in *Intersection) Admit(a Approach, id VehicleID) error {
	if !a.Valid() {
		return fmt.Errorf("intersection %d: invalid approach %d", in.id, uint8(a))
	}
	if len(in.queues[a]) >= in.capacity {
		return fmt.Errorf("intersection %d approach %s: %w", in.id, a, ErrCapacityExceeded)
	}
	in.queues[a] = append(in.queues[a], id)
	return nil
}

// Remove drops id from the approach queue and reports whether it was there.
func (in *Intersection) Remove(a Approach, id VehicleID) bool {
	if !a.Valid() {
		return false
	}
	q := in.queues[a]
	for i, v := range q {
		if v == id {
			in.queues[a] = append(q[:i], q[i+1:]...)
			return true
		}
	}
	return false
}

// Depart removes a vehicle that left through the exit and counts it.
func (in *Intersection) Depart(a Approach, id VehicleID) bool {
	if !in.Remove(a, id) {
		return false
	}
	in.throughput[a]++
	return true
}

// Queue returns a copy of the approach queue, front first.
func (in *Intersection) Queue(a Approach) []VehicleID {
	if !a.Valid() {
		return nil
	}
	return append([]VehicleID(nil), in.queues[a]...)
}

func (in *Intersection) Throughput(a Approach) uint64 {
	if !a.Valid() {
		return 0
	}
	return in.throughput[a]
}

// SetWaiting records how many vehicles are stopped on an approach.
func (in *Intersection) SetWaiting(a Approach, n int) {
	if a.Valid() {
		in.waiting[a] = n
	}
}

func (in *Intersection) Waiting(a Approach) int {
	if !a.Valid() {
		return 0
	}
	return in.waiting[a]
}

func (in *Intersection) TotalWaiting() int {
	n := 0
	for _, w := range in.waiting {
		n += w
	}
	return n
}

// Efficiency scores the intersection in [0, MaxEfficiency]: two points off per waiting
// vehicle, scaled down when weather slows traffic, plus ten while an
// emergency override is active. An open incident caps the score at
// IncidentEfficiencyCap.
func (in *Intersection) Efficiency() float64 {
	penalty := 2 * float64(in.TotalWaiting()) * in.speed
	score := 100 - penalty
	if score < 0 {
		score = 0
	}
	if in.OverrideActive() {
		score += 10
	}
	if in.incident > 0 && score > IncidentEfficiencyCap {
		score = IncidentEfficiencyCap
	}
	return score
}

// LongestQueue is the most vehicles admitted on any one approach.
func (in *Intersection) LongestQueue() int {
	n := 0
	for _, q := range in.queues {
		if len(q) > n {
			n = len(q)
		}
	}
	return n
}

func (in *Intersection) Congestion() Congestion { return CongestionFor(in.LongestQueue()) }

// GreenConflict reports a pair of conflicting approaches that are both
// Green. It never finds one unless the controller is broken.
func (in *Intersection) GreenConflict() (Approach, Approach, bool) {
	for _, a := range Approaches {
		for _, b := range Approaches {
			if b <= a || !in.conflicts.Conflicts(a, b) {
				continue
			}
			if in.lights[a].phase == Green && in.lights[b].phase == Green {
				return a, b, true
			}
		}
	}
	return 0, 0, false
}
