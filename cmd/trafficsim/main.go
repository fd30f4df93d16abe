package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"termtraffic.dev/internal/persistence/indexdb"
	persistlog "termtraffic.dev/internal/persistence/log"
	"termtraffic.dev/internal/persistence/snapshot"
	"termtraffic.dev/internal/render"
	"termtraffic.dev/internal/sim/tuning"
	"termtraffic.dev/internal/sim/world"
	"termtraffic.dev/internal/transport/observer"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/trafficsim.yaml", "path to the simulation config")
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address (empty to disable)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite stats index")
		headless   = flag.Bool("headless", false, "do not draw the terminal view or read keys")
		maxTicks   = flag.Uint64("ticks", 0, "stop after this many ticks (0 runs until interrupted)")

		o overrides
	)
	flag.StringVar(&o.preset, "preset", "", "start from a named preset instead of the config file ("+strings.Join(tuning.PresetNames(), ", ")+")")
	flag.Int64Var(&o.seed, "seed", 0, "simulation seed (overrides config)")
	flag.Float64Var(&o.timeScale, "time_scale", 1, "simulated seconds per wall second (overrides config)")
	flag.IntVar(&o.maxVehicles, "max_vehicles", 0, "vehicle cap (overrides config)")
	flag.Float64Var(&o.spawnRate, "spawn_rate", 0, "vehicles per second per approach (overrides config)")
	flag.IntVar(&o.intersections, "intersections", 0, "number of intersections (overrides config)")
	flag.BoolVar(&o.noWeather, "no_weather", false, "disable weather changes")
	flag.BoolVar(&o.noEmergency, "no_emergency", false, "disable random emergency dispatches")
	flag.BoolVar(&o.fixedStep, "fixed_step", false, "advance every tick by the nominal step (deterministic, replayable)")
	flag.Parse()

	o.set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	// The view owns stdout while it is drawn.
	logOut := io.Writer(os.Stdout)
	if !*headless {
		logOut = os.Stderr
	}
	logger := log.New(logOut, "[trafficsim] ", log.LstdFlags|log.Lmicroseconds)

	cfg, usedDefaults, err := buildConfig(*configPath, o.set["config"], o, os.Getenv)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if usedDefaults {
		logger.Printf("config not found (%s); using defaults", *configPath)
	}

	w, err := world.New(cfg)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	cfg = w.Config()
	runDir := filepath.Join(*dataDir, "runs", cfg.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	logger.Printf("run=%s seed=%d intersections=%d fixed_step=%t", cfg.RunID, cfg.Seed, cfg.Intersections, cfg.FixedStep)

	// Optional read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "trafficsim.sqlite"), cfg.StatsWindowTicks)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		idx.RecordRunStart(cfg.RunID, cfg)
	}

	tickLog := persistlog.NewTickLogger(runDir)
	eventLog := persistlog.NewEventLogger(runDir)
	events := persistlog.NewAsyncEventLogger(multiEventLogger{a: eventLog, b: idx}, 4096)
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	w.SetEventLogger(events)

	obs := observer.NewServer(w, logger)

	var view *render.Renderer
	if !*headless {
		view = render.New(os.Stdout, cfg.Lane)
	}

	ctx, cancel := signalContext()
	defer cancel()

	snapCh := make(chan world.Snapshot, 4)
	w.SetSnapshotSink(snapCh)
	fanoutDone := make(chan struct{})
	go func() {
		defer close(fanoutDone)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				obs.Publish(snap)
				if view != nil {
					if _, err := view.Draw(snap); err != nil {
						logger.Printf("draw: %v", err)
					}
				}
				if *maxTicks > 0 && snap.Tick+1 >= *maxTicks {
					cancel()
				}
			}
		}
	}()

	if !*headless {
		go readKeys(ctx, os.Stdin, w, cancel, logger)
		fmt.Fprintln(os.Stderr, keyHelp)
	}

	var srv *http.Server
	if *addr != "" {
		enableAdmin := envBool(os.Getenv, "TT_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP(os.Getenv))
		if !enableAdmin {
			logger.Printf("admin endpoints disabled (TT_ENABLE_ADMIN_HTTP=false)")
		}
		srv = &http.Server{
			Addr:              *addr,
			Handler:           newMux(httpDeps{world: w, observer: obs, index: idx, events: events, enableAdmin: enableAdmin}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("listening on %s", *addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("ListenAndServe: %v", err)
			}
		}()
	}

	started := time.Now()
	var runErr error
	if *headless && cfg.FixedStep {
		runErr = runFixed(ctx, w, *maxTicks)
	} else {
		runErr = w.Run(ctx)
	}
	cancel()
	<-fanoutDone

	if srv != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(ctx2)
		cancel2()
	}

	halted := runErr != nil && !errors.Is(runErr, context.Canceled)
	if halted {
		logger.Printf("world stopped: %v", runErr)
	}

	// Statistics flush: the last emitted snapshot and the command journal.
	snap, ok := w.Latest()
	if ok {
		path := filepath.Join(runDir, "final.frame.zst")
		if err := snapshot.WriteFrame(path, snapshot.NewFrame(w, snap)); err != nil {
			logger.Printf("write frame: %v", err)
		} else {
			logger.Printf("frame written: %s", path)
		}
		idx.RecordRunEnd(snap)
	}

	if err := events.Close(); err != nil {
		logger.Printf("event log: %v", err)
	}
	_ = eventLog.Close()
	_ = tickLog.Close()
	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Printf("close index: %v", err)
		}
	}

	if ok {
		logger.Print(summary(snap, time.Since(started), events.Dropped()))
	}
	if halted {
		os.Exit(1)
	}
}

// runFixed steps the world as fast as possible; only valid for fixed-step
// runs where wall time does not enter the simulation.
func runFixed(ctx context.Context, w *world.World, maxTicks uint64) error {
	for n := uint64(0); maxTicks == 0 || n < maxTicks; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := w.StepFixed(); err != nil {
			return err
		}
	}
	return nil
}

func readKeys(ctx context.Context, in io.Reader, w *world.World, quit context.CancelFunc, logger *log.Logger) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		cur, _ := w.Latest()
		act := parseKeys(sc.Text(), cur)
		if act.help {
			fmt.Fprintln(os.Stderr, keyHelp)
		}
		for _, cmd := range act.cmds {
			if !w.Submit(cmd) {
				logger.Printf("command queue full; dropped %T", cmd)
			}
		}
		if act.quit {
			quit()
			return
		}
	}
}

func summary(snap world.Snapshot, wall time.Duration, dropped uint64) string {
	win := snap.Window
	return fmt.Sprintf("run=%s ticks=%s sim=%s wall=%s vehicles=%d window(spawned=%s exited=%s collisions=%d near_misses=%d emergencies=%d) dropped_events=%s digest=%s",
		snap.RunID,
		humanize.Comma(int64(snap.Tick+1)),
		snap.SimTime.Round(time.Millisecond),
		wall.Round(time.Millisecond),
		len(snap.Vehicles),
		humanize.Comma(int64(win.Spawned)),
		humanize.Comma(int64(win.Exited)),
		win.Collisions,
		win.NearMisses,
		win.EmergencyDispatches,
		humanize.Comma(int64(dropped)),
		snap.Digest,
	)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

type multiTickLogger struct {
	a world.TickLogger
	b *indexdb.SQLiteIndex
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiEventLogger struct {
	a world.EventLogger
	b *indexdb.SQLiteIndex
}

func (m multiEventLogger) WriteEvent(entry world.EventEntry) error {
	if m.a != nil {
		_ = m.a.WriteEvent(entry)
	}
	if m.b != nil {
		_ = m.b.WriteEvent(entry)
	}
	return nil
}
