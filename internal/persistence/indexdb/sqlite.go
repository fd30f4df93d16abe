package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"termtraffic.dev/internal/sim/world"
)

// SQLiteIndex is a secondary index of a run: one row per run, per tick
// statistics and notable events. Rows older than the stats window are
// pruned as the run advances. Writes are queued and applied by a single
// goroutine so the world loop never waits on disk.
type SQLiteIndex struct {
	db     *sql.DB
	window uint64

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick  atomic.Uint64
	dropEvent atomic.Uint64
	dropRun   atomic.Uint64
	failed    atomic.Uint64
}

type IndexStats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropTickTotal  uint64 `json:"drop_tick_total"`
	DropEventTotal uint64 `json:"drop_event_total"`
	DropRunTotal   uint64 `json:"drop_run_total"`
	FailedTotal    uint64 `json:"failed_total"`
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqEvent
	reqRunStart
	reqRunEnd
)

type req struct {
	kind reqKind

	tick  world.TickLogEntry
	event world.EventEntry
	run   runRow
}

type runRow struct {
	RunID    string
	Seed     int64
	Config   string
	At       string
	LastTick uint64
	Digest   string
}

func OpenSQLite(path string, window uint64) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if window == 0 {
		window = world.DefaultConfig().StatsWindowTicks
	}
	s := &SQLiteIndex{
		db:     db,
		window: window,
		ch:     make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			config_json TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			last_tick INTEGER,
			last_digest TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			sim_ms INTEGER NOT NULL,
			vehicles INTEGER NOT NULL,
			spawned INTEGER NOT NULL,
			exited INTEGER NOT NULL,
			collisions INTEGER NOT NULL,
			near_misses INTEGER NOT NULL,
			overrides_granted INTEGER NOT NULL,
			overrides_denied INTEGER NOT NULL,
			emergency_dispatches INTEGER NOT NULL,
			wait_seconds REAL NOT NULL,
			digest TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			intersection INTEGER NOT NULL,
			approach TEXT,
			vehicle INTEGER,
			detail TEXT,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_tick ON events(run_id, type, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() IndexStats {
	if s == nil {
		return IndexStats{}
	}
	return IndexStats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropTickTotal:  s.dropTick.Load(),
		DropEventTotal: s.dropEvent.Load(),
		DropRunTotal:   s.dropRun.Load(),
		FailedTotal:    s.failed.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; the JSONL logs remain the source of truth.
		drops.Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s != nil {
		s.enqueue(req{kind: reqTick, tick: entry}, &s.dropTick)
	}
	return nil
}

func (s *SQLiteIndex) WriteEvent(entry world.EventEntry) error {
	if s != nil {
		s.enqueue(req{kind: reqEvent, event: entry}, &s.dropEvent)
	}
	return nil
}

// RecordRunStart stores the configuration a run started from.
func (s *SQLiteIndex) RecordRunStart(runID string, cfg world.WorldConfig) {
	if s == nil {
		return
	}
	b, _ := json.Marshal(cfg)
	s.enqueue(req{kind: reqRunStart, run: runRow{
		RunID:  runID,
		Seed:   cfg.Seed,
		Config: string(b),
		At:     time.Now().UTC().Format(time.RFC3339Nano),
	}}, &s.dropRun)
}

// RecordRunEnd marks the run finished at the last emitted snapshot.
func (s *SQLiteIndex) RecordRunEnd(snap world.Snapshot) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqRunEnd, run: runRow{
		RunID:    snap.RunID,
		At:       time.Now().UTC().Format(time.RFC3339Nano),
		LastTick: snap.Tick,
		Digest:   snap.Digest,
	}}, &s.dropRun)
}

func (s *SQLiteIndex) pruneEvery() uint64 {
	n := s.window / 10
	if n == 0 {
		n = 1
	}
	return n
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,sim_ms,vehicles,spawned,exited,collisions,near_misses,overrides_granted,overrides_denied,emergency_dispatches,wait_seconds,digest) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(run_id,tick,seq,type,intersection,approach,vehicle,detail) VALUES(?,?,?,?,?,?,?,?)`)
	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,seed,config_json,started_at) VALUES(?,?,?,?)`)
	endRun, _ := s.db.Prepare(`UPDATE runs SET ended_at=?, last_tick=?, last_digest=? WHERE run_id=?`)
	pruneTicks, _ := s.db.Prepare(`DELETE FROM ticks WHERE run_id=? AND tick<?`)
	pruneEvents, _ := s.db.Prepare(`DELETE FROM events WHERE run_id=? AND tick<?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertEvent, insertRun, endRun, pruneTicks, pruneEvents} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastEventTick uint64
		eventSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		s.failed.Add(1)
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.failed.Add(1)
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			d := t.Delta
			if !exec(insertTick,
				t.RunID,
				int64(t.Tick),
				t.SimTime.Milliseconds(),
				t.Vehicles,
				d.Spawned,
				d.Exited,
				d.Collisions,
				d.NearMisses,
				d.OverridesGranted,
				d.OverridesDenied,
				d.EmergencyDispatches,
				d.WaitSeconds,
				t.Digest,
			) {
				continue
			}
			if t.Tick >= s.window && t.Tick%s.pruneEvery() == 0 {
				cutoff := int64(t.Tick - s.window)
				if !exec(pruneTicks, t.RunID, cutoff) {
					continue
				}
				if !exec(pruneEvents, t.RunID, cutoff) {
					continue
				}
			}

		case reqEvent:
			e := r.event
			if e.Tick != lastEventTick {
				lastEventTick = e.Tick
				eventSeq = 0
			}
			seq := eventSeq
			eventSeq++
			if !exec(insertEvent, e.RunID, int64(e.Tick), seq, e.Type, e.Intersection, e.Approach, int64(e.Vehicle), e.Detail) {
				continue
			}

		case reqRunStart:
			ru := r.run
			if !exec(insertRun, ru.RunID, ru.Seed, ru.Config, ru.At) {
				continue
			}

		case reqRunEnd:
			ru := r.run
			if !exec(endRun, ru.At, int64(ru.LastTick), ru.Digest, ru.RunID) {
				continue
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
