package traffic

import (
	"fmt"
	"strings"
)

func (a Approach) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Approach) UnmarshalText(b []byte) error {
	v, err := ParseApproach(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for _, v := range []Phase{Red, Yellow, Green} {
		if strings.EqualFold(string(b), v.String()) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for _, v := range Kinds {
		if strings.EqualFold(string(b), v.String()) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown vehicle kind %q", b)
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{Approaching, Stopped, Moving, Exiting, Parked} {
		if strings.EqualFold(string(b), v.String()) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown vehicle state %q", b)
}

func (c Congestion) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Congestion) UnmarshalText(b []byte) error {
	for _, v := range []Congestion{CongestionNone, CongestionLight, CongestionModerate, CongestionHeavy, CongestionSevere} {
		if strings.EqualFold(string(b), v.String()) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("unknown congestion level %q", b)
}
