package traffic

import "fmt"

// Congestion grades the longest approach queue of an intersection.
type Congestion uint8

const (
	CongestionNone Congestion = iota
	CongestionLight
	CongestionModerate
	CongestionHeavy
	CongestionSevere
)

func (c Congestion) String() string {
	switch c {
	case CongestionNone:
		return "NONE"
	case CongestionLight:
		return "LIGHT"
	case CongestionModerate:
		return "MODERATE"
	case CongestionHeavy:
		return "HEAVY"
	case CongestionSevere:
		return "SEVERE"
	default:
		return fmt.Sprintf("Congestion(%d)", uint8(c))
	}
}

// CongestionFor grades a queue of n vehicles.
func CongestionFor(n int) Congestion {
	switch {
	case n <= 2:
		return CongestionNone
	case n <= 5:
		return CongestionLight
	case n <= 10:
		return CongestionModerate
	case n <= 20:
		return CongestionHeavy
	default:
		return CongestionSevere
	}
}
