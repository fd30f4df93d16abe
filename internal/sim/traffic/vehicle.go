package traffic

import (
	"fmt"
	"math"
	"time"
)

type Kind uint8

const (
	Car Kind = iota
	Truck
	Emergency

	NumKinds = 3
)

var Kinds = [NumKinds]Kind{Car, Truck, Emergency}

func (k Kind) String() string {
	switch k {
	case Car:
		return "CAR"
	case Truck:
		return "TRUCK"
	case Emergency:
		return "EMERGENCY"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// KindProfile holds per-kind kinematics in metres and seconds.
type KindProfile struct {
	MaxSpeed float64
	Accel    float64
	Decel    float64
}

func Profile(k Kind) KindProfile {
	switch k {
	case Truck:
		return KindProfile{MaxSpeed: 10, Accel: 1.5, Decel: 4}
	case Emergency:
		return KindProfile{MaxSpeed: 20, Accel: 4, Decel: 8}
	default:
		return KindProfile{MaxSpeed: 14, Accel: 3, Decel: 6}
	}
}

type State uint8

const (
	Approaching State = iota
	Stopped
	Moving
	Exiting
	Parked
)

func (s State) String() string {
	switch s {
	case Approaching:
		return "APPROACHING"
	case Stopped:
		return "STOPPED"
	case Moving:
		return "MOVING"
	case Exiting:
		return "EXITING"
	case Parked:
		return "PARKED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// VehicleEvent is what a single Advance call reports.
type VehicleEvent uint8

const (
	VehicleNone VehicleEvent = iota
	VehicleStopped
	VehicleStarted
	VehicleCommitted
	VehicleExited
)

// LaneRef identifies the approach a vehicle drives on. Vehicles never hold a
// pointer into the intersection.
type LaneRef struct {
	Intersection int
	Approach     Approach
}

// LaneGeometry positions are distances from the lane entry.
type LaneGeometry struct {
	StopLine float64
	Exit     float64
}

func (g LaneGeometry) Validate() error {
	if g.StopLine <= 0 {
		return &ConfigError{Field: "lane.stop_line", Reason: "must be > 0"}
	}
	if g.Exit <= g.StopLine {
		return &ConfigError{Field: "lane.exit", Reason: "must be beyond the stop line"}
	}
	return nil
}

// FollowParams bound car-following: the bumper gap kept to a leader and the
// minimum time-to-collision at the current closing rate.
type FollowParams struct {
	MinGap float64
	TTC    time.Duration
}

func (f FollowParams) Validate() error {
	if err := positive("follow.min_gap", f.MinGap); err != nil {
		return err
	}
	return positive("follow.ttc", f.TTC.Seconds())
}

const (
	// creepSpeed is the speed under which a vehicle held by a stop target is
	// considered stopped.
	creepSpeed = 0.1
	// yellowFactor scales the speed cap of a vehicle committed on Yellow.
	yellowFactor = 0.75
	// stopSlack absorbs rounding when comparing braking distance to the
	// distance left.
	stopSlack = 1e-6
)

type Vehicle struct {
	ID       VehicleID
	Kind     Kind
	Lane     LaneRef
	Position float64
	Speed    float64
	MaxSpeed float64
	State    State
	Waited   time.Duration

	prev      float64
	committed bool
}

func NewVehicle(id VehicleID, k Kind, lane LaneRef) *Vehicle {
	return &Vehicle{
		ID:       id,
		Kind:     k,
		Lane:     lane,
		MaxSpeed: Profile(k).MaxSpeed,
		State:    Approaching,
	}
}

// Committed reports whether the vehicle passed the point where it could
// still stop for a Yellow light.
func (v *Vehicle) Committed() bool { return v.committed }

// SpeedLimit is the current cap: max speed scaled by the weather.
func (v *Vehicle) SpeedLimit(cond Conditions) float64 {
	m := 1.0
	if cond != nil {
		m = cond.SpeedMultiplier()
	}
	return v.MaxSpeed * m
}

// Park takes the vehicle out of traffic until it is despawned.
func (v *Vehicle) Park() {
	v.State = Parked
	v.Speed = 0
	v.committed = false
}

// Advance moves the vehicle by one tick.
//
// A stop target at distance d (the stop line, or MinGap behind the leader)
// bounds the new speed by v = a*(sqrt(dt^2 + 2d/a) - dt) with a the
// comfortable deceleration, which is the largest speed satisfying
// v*dt + v^2/2a <= d: after moving this tick the vehicle can still stop
// short of the target. On top of that, the desired speed toward a leader is
// capped so that time-to-collision stays above TTC divided by visibility.
func (v *Vehicle) Advance(elapsed time.Duration, phase Phase, cond Conditions, leader *Vehicle, lane LaneGeometry, follow FollowParams) VehicleEvent {
	if v.State == Exiting || v.State == Parked {
		return VehicleNone
	}
	v.prev = v.Position
	dt := elapsed.Seconds()
	if dt <= 0 {
		// Weather can lower the limit on a zero-length tick.
		if lim := v.SpeedLimit(cond); v.Speed > lim {
			v.Speed = lim
		}
		return VehicleNone
	}
	if cond == nil {
		cond = ClearConditions{}
	}
	prof := Profile(v.Kind)
	limit := v.SpeedLimit(cond)
	if v.Kind == Emergency {
		phase = Green
	}

	desired := limit
	hardCap := math.Inf(1)
	held := false
	var ev VehicleEvent

	if v.Position <= lane.StopLine {
		dist := lane.StopLine - v.Position
		switch phase {
		case Red:
			if !v.committed {
				hardCap = math.Min(hardCap, safeSpeed(dist, prof.Decel, dt))
				held = true
			}
		case Yellow:
			if !v.committed && v.Speed*v.Speed/(2*prof.Decel) > dist+stopSlack {
				v.committed = true
				ev = VehicleCommitted
			}
			if !v.committed {
				hardCap = math.Min(hardCap, safeSpeed(dist, prof.Decel, dt))
				held = true
			}
		}
		if v.committed {
			desired = math.Min(desired, yellowFactor*limit)
		}
	} else {
		v.committed = false
	}

	if leader != nil {
		gap := leader.Position - follow.MinGap - v.Position
		if gap < 0 {
			gap = 0
		}
		s := safeSpeed(gap, prof.Decel, dt)
		if s < hardCap {
			hardCap = s
			held = true
		}
		vis := cond.VisibilityMultiplier()
		if vis <= 0 {
			vis = 0.01
		}
		ttc := follow.TTC.Seconds() / vis
		if ttc > 0 {
			desired = math.Min(desired, leader.Speed+gap/ttc)
		}
	}

	speed := approach(v.Speed, desired, prof.Accel*dt, prof.Decel*dt)
	if speed > hardCap {
		speed = hardCap
	}
	if held && hardCap < creepSpeed {
		speed = 0
	}
	if speed > limit {
		speed = limit
	}
	if speed < 0 {
		speed = 0
	}

	wasStopped := v.State == Stopped
	v.Speed = speed
	v.Position += speed * dt
	if v.Position > lane.StopLine {
		v.committed = false
	}

	switch {
	case v.Position >= lane.Exit:
		v.State = Exiting
		return VehicleExited
	case speed == 0:
		v.State = Stopped
		v.Waited += elapsed
		if !wasStopped {
			return VehicleStopped
		}
		return ev
	case v.Position > lane.StopLine:
		v.State = Moving
	default:
		v.State = Approaching
	}
	if wasStopped {
		return VehicleStarted
	}
	return ev
}

// safeSpeed is the largest speed from which a vehicle moving for dt and then
// braking at a stops within d.
func safeSpeed(d, a, dt float64) float64 {
	if d <= 0 {
		return 0
	}
	return a * (math.Sqrt(dt*dt+2*d/a) - dt)
}

func approach(cur, target, up, down float64) float64 {
	switch {
	case cur < target:
		return math.Min(cur+up, target)
	case cur > target:
		return math.Max(cur-down, target)
	default:
		return cur
	}
}
