package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"termtraffic.dev/internal/sim/events"
	"termtraffic.dev/internal/sim/world"
)

const Version = 1

var ErrVersion = errors.New("unsupported frame version")

// Header is written as a plain JSON line ahead of the gob body so tools can
// identify a frame without decoding all of it.
type Header struct {
	Version   int    `json:"version"`
	RunID     string `json:"run_id"`
	Tick      uint64 `json:"tick"`
	Seed      int64  `json:"seed"`
	Digest    string `json:"digest"`
	FixedStep bool   `json:"fixed_step"`
}

// FrameV1 is the statistics flush written on shutdown: the configuration
// the run started from, every command applied to it and the last emitted
// snapshot.
type FrameV1 struct {
	Header   Header
	Config   world.WorldConfig
	Journal  []world.JournalEntry
	Snapshot world.Snapshot
}

func init() {
	gob.Register(world.Inject{})
	gob.Register(world.DispatchEmergency{})
	gob.Register(world.SetWeather{})
	gob.Register(world.SetTimeScale{})
	gob.Register(world.AdjustDensity{})
	gob.Register(world.ParkVehicle{})
	gob.Register(world.DespawnVehicle{})
	gob.Register(world.TriggerIncident{})
	gob.Register(world.TriggerMalfunction{})
	gob.Register(events.EmergencyDispatch{})
	gob.Register(events.WeatherChange{})
	gob.Register(events.RushHourToggle{})
	gob.Register(events.TrafficIncident{})
	gob.Register(events.TrafficLightMalfunction{})
}

// NewFrame assembles a frame from a world that is no longer running.
func NewFrame(w *world.World, snap world.Snapshot) FrameV1 {
	cfg := w.Config()
	return FrameV1{
		Header: Header{
			Version:   Version,
			RunID:     snap.RunID,
			Tick:      snap.Tick,
			Seed:      cfg.Seed,
			Digest:    snap.Digest,
			FixedStep: cfg.FixedStep,
		},
		Config:   cfg,
		Journal:  w.Journal(),
		Snapshot: snap,
	}
}

func WriteFrame(path string, frame FrameV1) error {
	if frame.Header.Version == 0 {
		frame.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFrameFile(tmp, frame); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFrameFile(path string, frame FrameV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	werr := func() error {
		hb, err := json.Marshal(frame.Header)
		if err != nil {
			return err
		}
		if _, err := bw.Write(hb); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		if err := gob.NewEncoder(bw).Encode(&frame); err != nil {
			return fmt.Errorf("gob encode: %w", err)
		}
		return bw.Flush()
	}()
	if cerr := enc.Close(); werr == nil {
		werr = cerr
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	return h, nil
}

func ReadFrame(path string) (FrameV1, error) {
	var frame FrameV1
	f, err := os.Open(path)
	if err != nil {
		return frame, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return frame, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return frame, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return frame, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return frame, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&frame); err != nil {
		return frame, fmt.Errorf("gob decode: %w", err)
	}
	return frame, nil
}
