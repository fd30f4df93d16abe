package weather

// Transition is one row of the weather chain: from a kind to the next kind
// and the intensity it settles at.
type Transition struct {
	From        Kind
	To          Kind
	Target      float64
	Probability float64
}

// Transitions is the weather chain. Rows sharing a From are weighted by
// Probability relative to each other.
var Transitions = []Transition{
	{From: Clear, To: Rain, Target: 0.5, Probability: 0.3},
	{From: Clear, To: Fog, Target: 0.8, Probability: 0.15},
	{From: Clear, To: Snow, Target: 0.7, Probability: 0.1},

	{From: Rain, To: Clear, Target: 0, Probability: 0.4},
	{From: Rain, To: Rain, Target: 1, Probability: 0.3},
	{From: Rain, To: Rain, Target: 0.5, Probability: 0.25},
	{From: Rain, To: Storm, Target: 1, Probability: 0.1},

	{From: Snow, To: Clear, Target: 0, Probability: 0.4},
	{From: Snow, To: Fog, Target: 0.6, Probability: 0.2},

	{From: Fog, To: Clear, Target: 0, Probability: 0.6},
	{From: Fog, To: Rain, Target: 0.5, Probability: 0.2},

	{From: Storm, To: Rain, Target: 1, Probability: 0.4},
	{From: Storm, To: Rain, Target: 0.5, Probability: 0.3},
	{From: Storm, To: Clear, Target: 0, Probability: 0.2},
}

// PickNext selects the next weather for cur using a uniform roll in [0,1).
// ok is false when the chain has no row leaving cur.
func PickNext(cur Kind, roll float64) (Transition, bool) {
	total := 0.0
	var rows []Transition
	for _, t := range Transitions {
		if t.From == cur {
			rows = append(rows, t)
			total += t.Probability
		}
	}
	if len(rows) == 0 || total <= 0 {
		return Transition{}, false
	}
	r := clamp01(roll) * total
	for _, t := range rows {
		r -= t.Probability
		if r < 0 {
			return t, true
		}
	}
	return rows[len(rows)-1], true
}
