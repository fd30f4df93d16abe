package traffic

import "sort"

type ProximityKind uint8

const (
	NearMiss ProximityKind = iota + 1
	Collision
)

func (k ProximityKind) String() string {
	if k == Collision {
		return "COLLISION"
	}
	return "NEAR_MISS"
}

type ProximityReport struct {
	Kind     ProximityKind
	Lane     LaneRef
	Leader   VehicleID
	Follower VehicleID
	Gap      float64
}

// SortLane orders vehicles front first (largest position), ties by id.
func SortLane(vs []*Vehicle) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Position != vs[j].Position {
			return vs[i].Position > vs[j].Position
		}
		return vs[i].ID < vs[j].ID
	})
}

// CheckLane reports every consecutive pair in a front-first lane that ended
// the tick closer than minGap, and pulls the follower back to
// max(previous position, leader - minGap) with its speed capped by the
// leader's. A gap of zero or less counts as a collision.
func CheckLane(vs []*Vehicle, minGap float64) []ProximityReport {
	var out []ProximityReport
	for i := 1; i < len(vs); i++ {
		lead, f := vs[i-1], vs[i]
		gap := lead.Position - f.Position
		if gap >= minGap {
			continue
		}
		kind := NearMiss
		if gap <= 0 {
			kind = Collision
		}
		out = append(out, ProximityReport{Kind: kind, Lane: f.Lane, Leader: lead.ID, Follower: f.ID, Gap: gap})
		if f.State == Parked {
			continue
		}
		pos := lead.Position - minGap
		if pos < f.prev {
			pos = f.prev
		}
		if pos < f.Position {
			f.Position = pos
		}
		if f.Speed > lead.Speed {
			f.Speed = lead.Speed
		}
		if f.Speed == 0 && f.State != Exiting {
			f.State = Stopped
		}
	}
	return out
}
