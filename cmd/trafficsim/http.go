package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"termtraffic.dev/internal/persistence/indexdb"
	persistlog "termtraffic.dev/internal/persistence/log"
	"termtraffic.dev/internal/sim/world"
	"termtraffic.dev/internal/transport/observer"
)

type httpDeps struct {
	world    *world.World
	observer *observer.Server
	index    *indexdb.SQLiteIndex
	events   *persistlog.AsyncEventLogger

	enableAdmin bool
}

func newMux(d httpDeps) *http.ServeMux {
	w := d.world
	runID := w.RunID()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if err := w.Halted(); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()
		tick := w.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP trafficsim_tick Current simulation tick.\n")
		fmt.Fprintf(rw, "# TYPE trafficsim_tick gauge\n")
		fmt.Fprintf(rw, "trafficsim_tick{run=%q} %d\n", runID, tick)

		fmt.Fprintf(rw, "# HELP trafficsim_vehicles Vehicles currently in the network.\n")
		fmt.Fprintf(rw, "# TYPE trafficsim_vehicles gauge\n")
		fmt.Fprintf(rw, "trafficsim_vehicles{run=%q} %d\n", runID, m.Vehicles)

		fmt.Fprintf(rw, "# HELP trafficsim_sim_seconds Simulated seconds elapsed.\n")
		fmt.Fprintf(rw, "# TYPE trafficsim_sim_seconds gauge\n")
		fmt.Fprintf(rw, "trafficsim_sim_seconds{run=%q} %.3f\n", runID, m.SimSeconds)

		fmt.Fprintf(rw, "# HELP trafficsim_time_scale Simulated seconds per wall second.\n")
		fmt.Fprintf(rw, "# TYPE trafficsim_time_scale gauge\n")
		fmt.Fprintf(rw, "trafficsim_time_scale{run=%q} %.3f\n", runID, m.TimeScale)

		fmt.Fprintf(rw, "# HELP trafficsim_overrides_active Intersections under an emergency override.\n")
		fmt.Fprintf(rw, "# TYPE trafficsim_overrides_active gauge\n")
		fmt.Fprintf(rw, "trafficsim_overrides_active{run=%q} %d\n", runID, m.OverridesActive)

		fmt.Fprintf(rw, "# HELP trafficsim_weather_intensity Current weather intensity (0..1).\n")
		fmt.Fprintf(rw, "# TYPE trafficsim_weather_intensity gauge\n")
		fmt.Fprintf(rw, "trafficsim_weather_intensity{run=%q,kind=%q} %.3f\n", runID, m.Weather, m.WeatherIntensity)

		fmt.Fprintf(rw, "# HELP trafficsim_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE trafficsim_queue_depth gauge\n")
		fmt.Fprintf(rw, "trafficsim_queue_depth{run=%q,queue=%q} %d\n", runID, "commands", m.QueueDepths.Commands)
		fmt.Fprintf(rw, "trafficsim_queue_depth{run=%q,queue=%q} %d\n", runID, "events", m.QueueDepths.Events)

		fmt.Fprintf(rw, "# HELP trafficsim_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE trafficsim_step_ms gauge\n")
		fmt.Fprintf(rw, "trafficsim_step_ms{run=%q} %.3f\n", runID, m.StepMS)

		s := m.StatsWindow
		fmt.Fprintf(rw, "# HELP trafficsim_stats_window Rolling window stats.\n")
		fmt.Fprintf(rw, "# TYPE trafficsim_stats_window gauge\n")
		for _, kv := range []struct {
			name string
			v    int
		}{
			{"spawned", s.Spawned},
			{"exited", s.Exited},
			{"collisions", s.Collisions},
			{"near_misses", s.NearMisses},
			{"overrides_granted", s.OverridesGranted},
			{"overrides_denied", s.OverridesDenied},
			{"emergency_dispatches", s.EmergencyDispatches},
			{"capacity_rejected", s.CapacityRejected},
		} {
			fmt.Fprintf(rw, "trafficsim_stats_window{run=%q,metric=%q} %d\n", runID, kv.name, kv.v)
		}

		fmt.Fprintf(rw, "# HELP trafficsim_stats_window_ticks Rolling window size in ticks.\n")
		fmt.Fprintf(rw, "# TYPE trafficsim_stats_window_ticks gauge\n")
		fmt.Fprintf(rw, "trafficsim_stats_window_ticks{run=%q} %d\n", runID, m.StatsWindowTicks)

		if d.index != nil {
			st := d.index.Stats()
			fmt.Fprintf(rw, "# HELP trafficsim_index_dropped_total Index writes dropped because the queue was full.\n")
			fmt.Fprintf(rw, "# TYPE trafficsim_index_dropped_total counter\n")
			fmt.Fprintf(rw, "trafficsim_index_dropped_total{run=%q,kind=%q} %d\n", runID, "tick", st.DropTickTotal)
			fmt.Fprintf(rw, "trafficsim_index_dropped_total{run=%q,kind=%q} %d\n", runID, "event", st.DropEventTotal)
			fmt.Fprintf(rw, "trafficsim_index_dropped_total{run=%q,kind=%q} %d\n", runID, "run", st.DropRunTotal)
			fmt.Fprintf(rw, "# HELP trafficsim_index_queue_depth Index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE trafficsim_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "trafficsim_index_queue_depth{run=%q} %d\n", runID, st.QueueDepth)
		}
		if d.events != nil {
			fmt.Fprintf(rw, "# HELP trafficsim_event_log_dropped_total Event log records dropped under load.\n")
			fmt.Fprintf(rw, "# TYPE trafficsim_event_log_dropped_total counter\n")
			fmt.Fprintf(rw, "trafficsim_event_log_dropped_total{run=%q} %d\n", runID, d.events.Dropped())
		}
		if d.observer != nil {
			fmt.Fprintf(rw, "# HELP trafficsim_observers Connected observer sessions.\n")
			fmt.Fprintf(rw, "# TYPE trafficsim_observers gauge\n")
			fmt.Fprintf(rw, "trafficsim_observers{run=%q} %d\n", runID, d.observer.Subscribers())
		}
	})

	if d.enableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				RunID   string             `json:"run_id"`
				Tick    uint64             `json:"tick"`
				Paused  bool               `json:"paused"`
				Metrics world.WorldMetrics `json:"metrics"`
				Latest  *world.Snapshot    `json:"latest,omitempty"`
			}{
				RunID:   runID,
				Tick:    w.CurrentTick(),
				Paused:  w.Paused(),
				Metrics: w.Metrics(),
			}
			if snap, ok := w.Latest(); ok {
				resp.Latest = &snap
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		if d.observer != nil {
			mux.HandleFunc("/admin/v1/observer/bootstrap", d.observer.BootstrapHandler())
			mux.HandleFunc("/admin/v1/observer/ws", d.observer.WSHandler())
		}
	}
	return mux
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP(getenv func(string) string) bool {
	switch strings.ToLower(strings.TrimSpace(getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
