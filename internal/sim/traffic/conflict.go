package traffic

import "fmt"

// Approach is one directional lane feeding an intersection. The value is
// the direction traffic comes from.
type Approach uint8

const (
	North Approach = iota
	East
	South
	West

	NumApproaches = 4
)

var Approaches = [NumApproaches]Approach{North, East, South, West}

func (a Approach) String() string {
	switch a {
	case North:
		return "N"
	case East:
		return "E"
	case South:
		return "S"
	case West:
		return "W"
	default:
		return fmt.Sprintf("Approach(%d)", uint8(a))
	}
}

func (a Approach) Opposite() Approach { return (a + 2) % NumApproaches }

func (a Approach) Valid() bool { return a < NumApproaches }

func ParseApproach(s string) (Approach, error) {
	switch s {
	case "N", "n", "north", "NORTH":
		return North, nil
	case "E", "e", "east", "EAST":
		return East, nil
	case "S", "s", "south", "SOUTH":
		return South, nil
	case "W", "w", "west", "WEST":
		return West, nil
	}
	return 0, fmt.Errorf("unknown approach %q", s)
}

// ConflictTable marks which approaches may not hold Green at the same time.
// It is symmetric and an approach never conflicts with itself.
type ConflictTable [NumApproaches][NumApproaches]bool

// FourWayConflicts is the plain cross: perpendicular approaches conflict,
// opposite approaches may run concurrent greens.
func FourWayConflicts() ConflictTable {
	var t ConflictTable
	for _, a := range Approaches {
		for _, b := range Approaches {
			t[a][b] = a != b && b != a.Opposite()
		}
	}
	return t
}

// ExclusiveConflicts allows only one green at a time.
func ExclusiveConflicts() ConflictTable {
	var t ConflictTable
	for _, a := range Approaches {
		for _, b := range Approaches {
			t[a][b] = a != b
		}
	}
	return t
}

func (t ConflictTable) Conflicts(a, b Approach) bool {
	if !a.Valid() || !b.Valid() {
		return false
	}
	return t[a][b]
}

func (t ConflictTable) Validate() error {
	for _, a := range Approaches {
		if t[a][a] {
			return &ConfigError{Field: "conflicts", Reason: fmt.Sprintf("%s conflicts with itself", a)}
		}
		for _, b := range Approaches {
			if t[a][b] != t[b][a] {
				return &ConfigError{Field: "conflicts", Reason: fmt.Sprintf("%s/%s is not symmetric", a, b)}
			}
		}
	}
	return nil
}
