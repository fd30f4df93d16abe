package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"termtraffic.dev/internal/sim/world"
)

func openForRead(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteIndex_PrunesBeyondWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := OpenSQLite(path, 100)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.RecordRunStart("run-1", world.DefaultConfig())
	for tick := uint64(0); tick < 500; tick++ {
		_ = s.WriteTick(world.TickLogEntry{
			RunID:   "run-1",
			Tick:    tick,
			SimTime: time.Duration(tick) * 100 * time.Millisecond,
			Delta:   world.StatsBucket{Spawned: 1},
			Digest:  "d",
		})
		_ = s.WriteEvent(world.EventEntry{RunID: "run-1", Tick: tick, Type: "VEHICLE_SPAWN", Intersection: 0, Approach: "N", Vehicle: tick + 1})
	}
	s.RecordRunEnd(world.Snapshot{RunID: "run-1", Tick: 499, Digest: "final"})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if st := s.Stats(); st.DropTickTotal != 0 || st.DropEventTotal != 0 || st.FailedTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}

	db := openForRead(t, path)
	var n, minTick int64
	if err := db.QueryRow(`SELECT COUNT(*), MIN(tick) FROM ticks WHERE run_id='run-1'`).Scan(&n, &minTick); err != nil {
		t.Fatalf("query ticks: %v", err)
	}
	// Last prune ran at tick 490 with cutoff 390.
	if n != 110 || minTick != 390 {
		t.Fatalf("ticks count=%d min=%d", n, minTick)
	}
	if err := db.QueryRow(`SELECT COUNT(*), MIN(tick) FROM events WHERE run_id='run-1'`).Scan(&n, &minTick); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if n != 110 || minTick != 390 {
		t.Fatalf("events count=%d min=%d", n, minTick)
	}

	var lastTick int64
	var digest string
	var seed int64
	if err := db.QueryRow(`SELECT seed, last_tick, last_digest FROM runs WHERE run_id='run-1'`).Scan(&seed, &lastTick, &digest); err != nil {
		t.Fatalf("query runs: %v", err)
	}
	if seed != world.DefaultConfig().Seed || lastTick != 499 || digest != "final" {
		t.Fatalf("run row seed=%d last=%d digest=%q", seed, lastTick, digest)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: world.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(world.TickLogEntry{Tick: 2})
	_ = s.WriteEvent(world.EventEntry{Tick: 2})
	s.RecordRunEnd(world.Snapshot{RunID: "r"})

	st := s.Stats()
	if st.DropTickTotal != 1 || st.DropEventTotal != 1 || st.DropRunTotal != 1 {
		t.Fatalf("drops=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	if err := s.WriteTick(world.TickLogEntry{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	s.RecordRunStart("x", world.DefaultConfig())
	if st := s.Stats(); st != (IndexStats{}) {
		t.Fatalf("stats=%+v", st)
	}
}
