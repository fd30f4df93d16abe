package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"termtraffic.dev/internal/persistence/snapshot"
	"termtraffic.dev/internal/sim/world"
)

func main() {
	var (
		framePath = flag.String("frame", "", "path to final.frame.zst")
		ticksDir  = flag.String("ticks", "", "dir containing ticks-*.jsonl.zst (optional; default <frame dir>/ticks if present)")
		fromTick  = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
	)
	flag.Parse()

	if *framePath == "" {
		fmt.Fprintln(os.Stderr, "missing -frame")
		os.Exit(2)
	}

	frame, err := snapshot.ReadFrame(*framePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read frame:", err)
		os.Exit(1)
	}
	h := frame.Header
	fmt.Printf("frame v%d run=%s tick=%d seed=%d fixed_step=%t commands=%d vehicles=%d\n",
		h.Version, h.RunID, h.Tick, h.Seed, h.FixedStep, len(frame.Journal), len(frame.Snapshot.Vehicles))

	dir := *ticksDir
	if dir == "" {
		def := filepath.Join(filepath.Dir(*framePath), "ticks")
		if st, err := os.Stat(def); err == nil && st.IsDir() {
			dir = def
		}
	}
	var files []string
	if dir != "" {
		files, err = listTickFiles(dir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list ticks:", err)
			os.Exit(1)
		}
	}

	checked, err := replay(frame, files, *fromTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks, final digest=%s\n", checked, h.Digest)
}

// replay re-simulates the run described by frame. With tick log files every
// logged tick is stepped with its recorded elapsed time and its digest is
// checked; without them the run must be fixed-step and only the final
// digest is checked.
func replay(frame snapshot.FrameV1, tickFiles []string, verifyFrom uint64) (uint64, error) {
	cfg := frame.Config
	w, err := world.New(cfg)
	if err != nil {
		return 0, fmt.Errorf("world: %w", err)
	}
	cmds := world.JournalAt(frame.Journal)
	last := frame.Header.Tick

	var checked uint64
	if len(tickFiles) == 0 {
		if !frame.Header.FixedStep {
			return 0, fmt.Errorf("run was not fixed-step; tick logs are required")
		}
		var snap world.Snapshot
		for tick := uint64(0); tick <= last; tick++ {
			if snap, err = w.StepFixed(cmds[tick]...); err != nil {
				return checked, err
			}
		}
		checked++
		if snap.Digest != frame.Header.Digest {
			return checked, fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", last, snap.Digest, frame.Header.Digest)
		}
		return checked, nil
	}

	for _, path := range tickFiles {
		done, err := replayFile(w, path, cmds, verifyFrom, last, &checked)
		if err != nil {
			return checked, err
		}
		if done {
			break
		}
	}
	if w.CurrentTick() <= last {
		return checked, fmt.Errorf("tick logs end at tick %d before frame tick %d", w.CurrentTick(), last)
	}
	if snap, _ := w.Latest(); snap.Digest != frame.Header.Digest {
		return checked, fmt.Errorf("final digest mismatch: got=%s want=%s", snap.Digest, frame.Header.Digest)
	}
	return checked, nil
}

func listTickFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "ticks-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func replayFile(w *world.World, path string, cmds map[uint64][]world.Command, verifyFrom, lastTick uint64, checked *uint64) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return false, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		var entry world.TickLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return false, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if entry.Tick > lastTick {
			return true, nil
		}
		if entry.Tick != w.CurrentTick() {
			return false, fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", w.CurrentTick(), entry.Tick, filepath.Base(path))
		}

		snap, err := w.StepOnce(entry.Elapsed, cmds[entry.Tick]...)
		if err != nil {
			return false, fmt.Errorf("tick %d: %w", entry.Tick, err)
		}

		// Sanity check: StepOnce should have stepped the same tick.
		if snap.Tick != entry.Tick {
			return false, fmt.Errorf("internal tick mismatch: stepped=%d entry=%d (file=%s)", snap.Tick, entry.Tick, filepath.Base(path))
		}

		if snap.Tick >= verifyFrom {
			*checked++
			if snap.Digest != entry.Digest {
				return false, fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", snap.Tick, snap.Digest, entry.Digest)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return false, err
	}
	return false, nil
}
