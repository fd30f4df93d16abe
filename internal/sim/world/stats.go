package world

import "termtraffic.dev/internal/sim/traffic"

// StatsBucket holds counters summed over a span of ticks. The Peak fields
// keep the maximum instead.
type StatsBucket struct {
	Spawned             int     `json:"spawned"`
	Exited              int     `json:"exited"`
	Stops               int     `json:"stops"`
	Collisions          int     `json:"collisions"`
	NearMisses          int     `json:"near_misses"`
	OverridesGranted    int     `json:"overrides_granted"`
	OverridesDenied     int     `json:"overrides_denied"`
	EmergencyDispatches int     `json:"emergency_dispatches"`
	LightChanges        int     `json:"light_changes"`
	CapacityRejected    int     `json:"capacity_rejected"`
	WeatherChanges      int     `json:"weather_changes"`
	WaitSeconds         float64 `json:"wait_seconds"`
	Incidents           int     `json:"incidents"`
	Malfunctions        int     `json:"malfunctions"`

	SpawnedByKind [traffic.NumKinds]int `json:"spawned_by_kind"`
	// ExitWaitSeconds is the total time exited vehicles spent stopped.
	ExitWaitSeconds float64 `json:"exit_wait_seconds"`
	PeakWaitSeconds float64 `json:"peak_wait_seconds"`
	PeakQueue       int     `json:"peak_queue"`

	// EfficiencySum adds one mean intersection efficiency per tick.
	EfficiencySum     float64 `json:"efficiency_sum"`
	EfficiencySamples int     `json:"efficiency_samples"`
}

// AverageWait is the mean stop time of the vehicles that exited.
func (b StatsBucket) AverageWait() float64 {
	if b.Exited == 0 {
		return 0
	}
	return b.ExitWaitSeconds / float64(b.Exited)
}

func (b StatsBucket) AverageEfficiency() float64 {
	if b.EfficiencySamples == 0 {
		return 0
	}
	return b.EfficiencySum / float64(b.EfficiencySamples)
}

// Congestion grades the longest queue seen in the bucket.
func (b StatsBucket) Congestion() traffic.Congestion { return traffic.CongestionFor(b.PeakQueue) }

func (b *StatsBucket) add(o StatsBucket) {
	b.Spawned += o.Spawned
	b.Exited += o.Exited
	b.Stops += o.Stops
	b.Collisions += o.Collisions
	b.NearMisses += o.NearMisses
	b.OverridesGranted += o.OverridesGranted
	b.OverridesDenied += o.OverridesDenied
	b.EmergencyDispatches += o.EmergencyDispatches
	b.LightChanges += o.LightChanges
	b.CapacityRejected += o.CapacityRejected
	b.WeatherChanges += o.WeatherChanges
	b.WaitSeconds += o.WaitSeconds
	b.Incidents += o.Incidents
	b.Malfunctions += o.Malfunctions
	for k := range b.SpawnedByKind {
		b.SpawnedByKind[k] += o.SpawnedByKind[k]
	}
	b.ExitWaitSeconds += o.ExitWaitSeconds
	if o.PeakWaitSeconds > b.PeakWaitSeconds {
		b.PeakWaitSeconds = o.PeakWaitSeconds
	}
	if o.PeakQueue > b.PeakQueue {
		b.PeakQueue = o.PeakQueue
	}
	b.EfficiencySum += o.EfficiencySum
	b.EfficiencySamples += o.EfficiencySamples
}

// WorldStats is a ring of per-bucket counters covering the last
// windowTicks ticks. Nothing older is kept.
type WorldStats struct {
	bucketTicks uint64
	windowTicks uint64

	buckets []StatsBucket
	curIdx  int
	curBase uint64 // start tick (inclusive) of current bucket
}

func NewWorldStats(bucketTicks, windowTicks uint64) *WorldStats {
	if bucketTicks <= 0 {
		bucketTicks = 50
	}
	if windowTicks < bucketTicks {
		windowTicks = bucketTicks
	}
	n := int(windowTicks / bucketTicks)
	if n < 1 {
		n = 1
	}
	return &WorldStats{
		bucketTicks: bucketTicks,
		windowTicks: uint64(n) * bucketTicks,
		buckets:     make([]StatsBucket, n),
	}
}

func (s *WorldStats) rotate(nowTick uint64) {
	if s == nil {
		return
	}
	// Move forward until nowTick is in [curBase, curBase+bucketTicks).
	// A jump past the whole window clears every bucket in one pass.
	if nowTick >= s.curBase+s.windowTicks {
		for i := range s.buckets {
			s.buckets[i] = StatsBucket{}
		}
		s.curBase = nowTick - nowTick%s.bucketTicks
		return
	}
	for nowTick >= s.curBase+s.bucketTicks {
		s.curIdx = (s.curIdx + 1) % len(s.buckets)
		s.buckets[s.curIdx] = StatsBucket{}
		s.curBase += s.bucketTicks
	}
}

// Record adds one tick's delta to the current bucket.
func (s *WorldStats) Record(nowTick uint64, delta StatsBucket) {
	if s == nil {
		return
	}
	s.rotate(nowTick)
	s.buckets[s.curIdx].add(delta)
}

func (s *WorldStats) WindowTicks() uint64 {
	if s == nil {
		return 0
	}
	return s.windowTicks
}

func (s *WorldStats) BucketTicks() uint64 {
	if s == nil {
		return 0
	}
	return s.bucketTicks
}

func (s *WorldStats) Summarize(nowTick uint64) StatsBucket {
	if s == nil {
		return StatsBucket{}
	}
	s.rotate(nowTick)
	var out StatsBucket
	for _, b := range s.buckets {
		out.add(b)
	}
	return out
}

// EfficiencyTrend returns the mean efficiency of each bucket in the window,
// oldest first. Buckets without samples are skipped.
func (s *WorldStats) EfficiencyTrend(nowTick uint64) []float64 {
	if s == nil {
		return nil
	}
	s.rotate(nowTick)
	var out []float64
	for i := 1; i <= len(s.buckets); i++ {
		b := s.buckets[(s.curIdx+i)%len(s.buckets)]
		if b.EfficiencySamples > 0 {
			out = append(out, b.AverageEfficiency())
		}
	}
	return out
}
