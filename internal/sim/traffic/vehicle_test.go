package traffic

import (
	"math"
	"testing"
	"time"
)

type testConditions struct{ speed, vis float64 }

func (c testConditions) SpeedMultiplier() float64      { return c.speed }
func (c testConditions) VisibilityMultiplier() float64 { return c.vis }

var (
	testLane   = LaneGeometry{StopLine: 100, Exit: 140}
	testFollow = FollowParams{MinGap: 5, TTC: 2 * time.Second}
	tick       = 100 * time.Millisecond
)

func TestVehicle_FollowerStopsBehindStoppedLeader(t *testing.T) {
	lane := LaneGeometry{StopLine: 50, Exit: 80}
	leader := NewVehicle(1, Car, LaneRef{Approach: North})
	leader.Position = 50
	leader.State = Stopped
	follower := NewVehicle(2, Car, LaneRef{Approach: North})
	follower.Position = 40
	follower.Speed = 5

	for i := 0; i < 300; i++ {
		leader.Advance(tick, Red, nil, nil, lane, testFollow)
		follower.Advance(tick, Red, nil, leader, lane, testFollow)
		if follower.Position > 45 || follower.Speed < 0 {
			t.Fatalf("tick %d: follower pos=%.3f speed=%.3f", i, follower.Position, follower.Speed)
		}
	}
	if follower.Speed != 0 || follower.State != Stopped {
		t.Fatalf("expected stopped follower, got %s speed=%.3f", follower.State, follower.Speed)
	}
	if leader.Position != 50 {
		t.Fatalf("leader moved to %.3f", leader.Position)
	}
}

func TestVehicle_StopsAtRedLine(t *testing.T) {
	v := NewVehicle(1, Truck, LaneRef{Approach: East})
	v.Position = 20
	v.Speed = 10
	stoppedAt := -1
	for i := 0; i < 400; i++ {
		ev := v.Advance(tick, Red, nil, nil, testLane, testFollow)
		if v.Position > testLane.StopLine {
			t.Fatalf("tick %d: ran the red line at %.3f", i, v.Position)
		}
		if ev == VehicleStopped {
			stoppedAt = i
		}
	}
	if stoppedAt == -1 || v.State != Stopped {
		t.Fatalf("expected a stop, got %s", v.State)
	}
	if math.Abs(v.Position-testLane.StopLine) > 0.5 {
		t.Fatalf("stopped at %.3f, want near %.1f", v.Position, testLane.StopLine)
	}
	if v.Waited <= 0 {
		t.Fatalf("expected wait time to accrue")
	}

	if ev := v.Advance(tick, Green, nil, nil, testLane, testFollow); ev != VehicleStarted {
		t.Fatalf("expected VehicleStarted on green, got %d", ev)
	}
	if v.State == Stopped || v.Speed <= 0 {
		t.Fatalf("expected vehicle moving on green, got %s speed=%.3f", v.State, v.Speed)
	}
}

func TestVehicle_SpeedBoundedByWeather(t *testing.T) {
	snow := testConditions{speed: 0.5, vis: 0.6}
	v := NewVehicle(1, Car, LaneRef{})
	v.Speed = v.MaxSpeed
	for i := 0; i < 50; i++ {
		v.Advance(tick, Green, snow, nil, LaneGeometry{StopLine: 1000, Exit: 2000}, testFollow)
		if v.Speed > v.MaxSpeed*snow.speed || v.Speed < 0 {
			t.Fatalf("tick %d: speed %.3f outside [0, %.3f]", i, v.Speed, v.MaxSpeed*snow.speed)
		}
	}
}

func TestVehicle_ZeroTickAppliesWeatherLimit(t *testing.T) {
	storm := testConditions{speed: 0.6, vis: 0.3}
	v := NewVehicle(1, Car, LaneRef{})
	v.Position = 30
	v.Speed = 12.7

	if ev := v.Advance(0, Green, storm, nil, testLane, testFollow); ev != VehicleNone {
		t.Fatalf("zero tick reported %d", ev)
	}
	if want := v.MaxSpeed * storm.speed; v.Speed != want {
		t.Fatalf("speed=%.4f want %.4f", v.Speed, want)
	}
	if v.Position != 30 {
		t.Fatalf("zero tick moved the vehicle to %.3f", v.Position)
	}

	v.Speed = 3
	v.Advance(0, Green, storm, nil, testLane, testFollow)
	if v.Speed != 3 {
		t.Fatalf("speed under the limit changed to %.3f", v.Speed)
	}
}

func TestVehicle_YellowCommitIsSticky(t *testing.T) {
	v := NewVehicle(1, Car, LaneRef{})
	v.Position = 95
	v.Speed = 14
	if ev := v.Advance(tick, Yellow, nil, nil, testLane, testFollow); ev != VehicleCommitted {
		t.Fatalf("expected commit, got %d", ev)
	}
	if !v.Committed() {
		t.Fatalf("expected committed vehicle")
	}

	for v.Position <= testLane.StopLine {
		v.Advance(tick, Red, nil, nil, testLane, testFollow)
		if v.Speed <= 0 {
			t.Fatalf("committed vehicle braked at %.3f", v.Position)
		}
	}
	if v.Committed() || v.State != Moving {
		t.Fatalf("past the line: committed=%t state=%s", v.Committed(), v.State)
	}
}

func TestVehicle_YellowStopsWhenAble(t *testing.T) {
	v := NewVehicle(1, Car, LaneRef{})
	v.Position = 40
	v.Speed = 10
	v.Advance(tick, Yellow, nil, nil, testLane, testFollow)
	if v.Committed() {
		t.Fatalf("vehicle able to stop must not commit")
	}
	for i := 0; i < 400; i++ {
		v.Advance(tick, Yellow, nil, nil, testLane, testFollow)
		if v.Position > testLane.StopLine {
			t.Fatalf("tick %d: crossed on yellow at %.3f", i, v.Position)
		}
	}
	if v.State != Stopped {
		t.Fatalf("expected stopped, got %s", v.State)
	}
}

func TestVehicle_EmergencyIgnoresRedButFollows(t *testing.T) {
	amb := NewVehicle(1, Emergency, LaneRef{})
	amb.Position = 90
	amb.Speed = 10
	amb.Advance(tick, Red, nil, nil, testLane, testFollow)
	if amb.Speed <= 10 {
		t.Fatalf("emergency vehicle slowed for red: %.3f", amb.Speed)
	}

	leader := NewVehicle(2, Emergency, LaneRef{})
	leader.Position = 120
	leader.State = Stopped
	for i := 0; i < 200; i++ {
		amb.Advance(tick, Red, nil, leader, testLane, testFollow)
		if amb.Position > 115 {
			t.Fatalf("tick %d: closed the gap to %.3f", i, amb.Position)
		}
	}
}

func TestVehicle_ExitingIsInert(t *testing.T) {
	v := NewVehicle(1, Car, LaneRef{})
	v.Position = 139.5
	v.Speed = 10
	if ev := v.Advance(tick, Green, nil, nil, testLane, testFollow); ev != VehicleExited || v.State != Exiting {
		t.Fatalf("expected exit, got ev=%d state=%s", ev, v.State)
	}

	pos, speed := v.Position, v.Speed
	for i := 0; i < 2; i++ {
		if ev := v.Advance(tick, Green, nil, nil, testLane, testFollow); ev != VehicleNone {
			t.Fatalf("exiting vehicle reported %d", ev)
		}
	}
	if v.Position != pos || v.Speed != speed || v.State != Exiting {
		t.Fatalf("exiting vehicle changed: pos=%.3f speed=%.3f state=%s", v.Position, v.Speed, v.State)
	}
}

func TestVehicle_ParkedIsInert(t *testing.T) {
	v := NewVehicle(1, Car, LaneRef{})
	v.Position = 30
	v.Speed = 8
	v.Park()
	for i := 0; i < 10; i++ {
		if ev := v.Advance(tick, Green, nil, nil, testLane, testFollow); ev != VehicleNone {
			t.Fatalf("parked vehicle reported %d", ev)
		}
	}
	if v.State != Parked || v.Position != 30 || v.Speed != 0 {
		t.Fatalf("parked vehicle changed: %s pos=%.3f speed=%.3f", v.State, v.Position, v.Speed)
	}
}

func TestVehicle_StartsFromRestWithSmallSteps(t *testing.T) {
	v := NewVehicle(1, Truck, LaneRef{})
	v.Advance(time.Millisecond, Green, nil, nil, testLane, testFollow)
	if v.Speed <= 0 || v.State != Approaching {
		t.Fatalf("expected a slow start, got %s speed=%.5f", v.State, v.Speed)
	}
}

func TestCheckLane_ClampsFollower(t *testing.T) {
	lead := NewVehicle(1, Car, LaneRef{})
	lead.Position = 50
	lead.Speed = 2
	near := NewVehicle(2, Car, LaneRef{})
	near.Position = 47
	near.prev = 44
	near.Speed = 6
	crash := NewVehicle(3, Car, LaneRef{})
	crash.Position = 47
	crash.prev = 46
	crash.Speed = 3

	lane := []*Vehicle{crash, near, lead}
	SortLane(lane)
	if lane[0].ID != 1 || lane[1].ID != 2 || lane[2].ID != 3 {
		t.Fatalf("unexpected lane order %d %d %d", lane[0].ID, lane[1].ID, lane[2].ID)
	}

	reports := CheckLane(lane, 5)
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %+v", reports)
	}
	if reports[0].Kind != NearMiss || reports[0].Follower != 2 {
		t.Fatalf("first report=%+v", reports[0])
	}
	if near.Position != 45 || near.Speed != 2 {
		t.Fatalf("near miss follower pos=%.3f speed=%.3f", near.Position, near.Speed)
	}
	if reports[1].Kind != Collision {
		t.Fatalf("second report=%+v", reports[1])
	}
	// Never moved behind its previous position.
	if crash.Position != 46 || crash.Speed != 2 {
		t.Fatalf("collided follower pos=%.3f speed=%.3f", crash.Position, crash.Speed)
	}
}
