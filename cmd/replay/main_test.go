package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	persistlog "termtraffic.dev/internal/persistence/log"
	"termtraffic.dev/internal/persistence/snapshot"
	"termtraffic.dev/internal/sim/weather"
	"termtraffic.dev/internal/sim/world"
)

func recordRun(t *testing.T, fixed bool, ticks int, runDir string) snapshot.FrameV1 {
	t.Helper()
	cfg := world.DefaultConfig()
	cfg.RunID = "replay-test"
	cfg.Seed = 99
	cfg.FixedStep = fixed
	cfg.SpawnRate = 0.8
	w, err := world.New(cfg)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	var tickLog *persistlog.TickLogger
	if runDir != "" {
		tickLog = persistlog.NewTickLogger(runDir)
		w.SetTickLogger(tickLog)
	}

	var snap world.Snapshot
	for i := 0; i < ticks; i++ {
		var cmds []world.Command
		switch i {
		case 10:
			cmds = append(cmds, world.DispatchEmergency{})
		case 20:
			cmds = append(cmds, world.SetWeather{Kind: weather.Storm, Intensity: 0.9}, world.AdjustDensity{Factor: 1.5})
		}
		if fixed {
			snap, err = w.StepFixed(cmds...)
		} else {
			// Uneven wall-clock steps.
			snap, err = w.StepOnce(time.Duration(50+(i%7)*20)*time.Millisecond, cmds...)
		}
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if tickLog != nil {
		if err := tickLog.Close(); err != nil {
			t.Fatalf("close tick log: %v", err)
		}
	}
	return snapshot.NewFrame(w, snap)
}

func TestReplay_FixedStepWithoutTickLogs(t *testing.T) {
	frame := recordRun(t, true, 120, "")
	checked, err := replay(frame, nil, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 1 {
		t.Fatalf("checked=%d", checked)
	}

	frame.Header.Digest = "bogus"
	if _, err := replay(frame, nil, 0); err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestReplay_WallClockRunNeedsTickLogs(t *testing.T) {
	runDir := t.TempDir()
	frame := recordRun(t, false, 150, runDir)
	if _, err := replay(frame, nil, 0); err == nil {
		t.Fatalf("expected error without tick logs")
	}

	files, err := listTickFiles(filepath.Join(runDir, "ticks"))
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	checked, err := replay(frame, files, 100)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 50 {
		t.Fatalf("checked=%d want 50", checked)
	}
}

func TestReplay_DroppedCommandIsDetected(t *testing.T) {
	runDir := t.TempDir()
	frame := recordRun(t, false, 60, runDir)
	files, err := listTickFiles(filepath.Join(runDir, "ticks"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	frame.Journal = frame.Journal[:1]
	if _, err := replay(frame, files, 0); err == nil || !strings.Contains(err.Error(), "digest mismatch at tick 20") {
		t.Fatalf("expected mismatch at tick 20, got %v", err)
	}
}
