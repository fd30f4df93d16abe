package log

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"termtraffic.dev/internal/sim/world"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var out []string
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "events")
	now := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if err := w.Write(map[string]int{"a": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write(map[string]int{"a": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"a": 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := w.Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v want 2", files)
	}
	if got := readLines(t, files[0]); len(got) != 2 || got[1] != `{"a":2}` {
		t.Fatalf("first hour lines=%v", got)
	}
	if got := readLines(t, files[1]); len(got) != 1 || got[0] != `{"a":3}` {
		t.Fatalf("second hour lines=%v", got)
	}
}

func TestAsyncEventLogger_DrainsOnClose(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir)
	async := NewAsyncEventLogger(el, 128)

	for i := 0; i < 50; i++ {
		_ = async.WriteEvent(world.EventEntry{RunID: "r", Tick: uint64(i), Type: "VEHICLE_EXIT", Vehicle: uint64(i + 1)})
	}
	if err := async.Close(); err != nil {
		t.Fatalf("close async: %v", err)
	}
	if err := el.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if async.Dropped() != 0 || async.Failed() != 0 {
		t.Fatalf("dropped=%d failed=%d", async.Dropped(), async.Failed())
	}

	files, err := el.w.Files()
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var lines []string
	for _, f := range files {
		lines = append(lines, readLines(t, f)...)
	}
	if len(lines) != 50 {
		t.Fatalf("lines=%d want 50", len(lines))
	}
	var e world.EventEntry
	if err := json.Unmarshal([]byte(lines[49]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Tick != 49 || e.Type != "VEHICLE_EXIT" {
		t.Fatalf("last entry=%+v", e)
	}

	// Writes after close are ignored.
	_ = async.WriteEvent(world.EventEntry{Tick: 99})
}

func TestAsyncEventLogger_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	slow := slowLogger{block: block}
	async := NewAsyncEventLogger(slow, 1)

	for i := 0; i < 10; i++ {
		_ = async.WriteEvent(world.EventEntry{Tick: uint64(i)})
	}
	if async.Dropped() == 0 {
		t.Fatalf("expected drops with a blocked writer")
	}
	close(block)
	_ = async.Close()
}

func TestAsyncEventLogger_CloseWhileWriting(t *testing.T) {
	var sink countingLogger
	async := NewAsyncEventLogger(&sink, 8)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			for i := 0; i < 500; i++ {
				_ = async.WriteEvent(world.EventEntry{Tick: uint64(i), Intersection: g})
			}
		}(g)
	}
	close(start)
	if err := async.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()

	got := sink.n.Load() + async.Dropped()
	if got > 8*500 {
		t.Fatalf("written+dropped=%d exceeds writes", got)
	}
	before := sink.n.Load()
	_ = async.WriteEvent(world.EventEntry{Tick: 1})
	if sink.n.Load() != before {
		t.Fatalf("write after close reached the sink")
	}
}

type countingLogger struct{ n atomic.Uint64 }

func (c *countingLogger) WriteEvent(world.EventEntry) error {
	c.n.Add(1)
	return nil
}

type slowLogger struct{ block chan struct{} }

func (s slowLogger) WriteEvent(world.EventEntry) error {
	<-s.block
	return nil
}
