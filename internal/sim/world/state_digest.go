package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"

	"termtraffic.dev/internal/sim/traffic"
)

// stateDigest hashes everything that determines future ticks. The run id
// is left out so two runs with the same seed and inputs agree.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteU64(h, &tmp, uint64(w.cfg.Seed))
	digestWriteU64(h, &tmp, uint64(w.clock.SimTime()))
	digestWriteF64(h, &tmp, w.clock.Scale())
	digestWriteF64(h, &tmp, w.density)

	w.digestWeather(h, &tmp)
	w.digestIntersections(h, &tmp)
	w.digestVehicles(h, &tmp)
	w.digestQueue(h, &tmp)

	return hex.EncodeToString(h.Sum(nil))
}

func (w *World) digestWeather(h hash.Hash, tmp *[8]byte) {
	s := w.weather
	h.Write([]byte{byte(s.Kind), boolByte(s.Clearing), boolByte(w.rushActive)})
	digestWriteF64(h, tmp, s.Intensity)
	digestWriteF64(h, tmp, s.From)
	digestWriteF64(h, tmp, s.Target)
	digestWriteU64(h, tmp, uint64(s.Ramp))
	digestWriteU64(h, tmp, uint64(s.RampElapsed))
	digestWriteU64(h, tmp, uint64(s.Remaining))
	digestWriteF64(h, tmp, w.rushMult)
}

func (w *World) digestIntersections(h hash.Hash, tmp *[8]byte) {
	for _, in := range w.intersections {
		digestWriteU64(h, tmp, uint64(in.ID()))
		for _, a := range traffic.Approaches {
			l := in.Light(a)
			h.Write([]byte{byte(a), byte(l.Phase()), boolByte(l.Overridden())})
			digestWriteU64(h, tmp, uint64(l.PhaseElapsed()))
			digestWriteU64(h, tmp, l.Cycles())
			if rem, ok := in.OverrideRemaining(a); ok {
				digestWriteU64(h, tmp, uint64(rem))
			}
			for _, id := range in.Queue(a) {
				digestWriteU64(h, tmp, uint64(id))
			}
			digestWriteU64(h, tmp, in.Throughput(a))
		}
		digestWriteU64(h, tmp, uint64(in.IncidentRemaining()))
		digestWriteU64(h, tmp, uint64(in.MalfunctionRemaining()))
	}
}

func (w *World) digestVehicles(h hash.Hash, tmp *[8]byte) {
	digestWriteU64(h, tmp, uint64(w.nextID))
	for i := range w.lanes {
		for _, a := range traffic.Approaches {
			for _, v := range w.lanes[i][a] {
				digestWriteU64(h, tmp, uint64(v.ID))
				h.Write([]byte{byte(v.Kind), byte(v.State), boolByte(v.Committed())})
				digestWriteF64(h, tmp, v.Position)
				digestWriteF64(h, tmp, v.Speed)
				digestWriteU64(h, tmp, uint64(v.Waited))
			}
		}
	}
}

func (w *World) digestQueue(h hash.Hash, tmp *[8]byte) {
	for _, s := range w.queue.Pending() {
		digestWriteU64(h, tmp, s.Due)
		digestWriteU64(h, tmp, s.Seq)
		h.Write([]byte{byte(s.Event.Priority()), byte(s.Source)})
	}
}

func digestWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteF64(h hash.Hash, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
