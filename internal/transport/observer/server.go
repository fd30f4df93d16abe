package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"termtraffic.dev/internal/observerproto"
	"termtraffic.dev/internal/sim/events"
	"termtraffic.dev/internal/sim/traffic"
	"termtraffic.dev/internal/sim/weather"
	"termtraffic.dev/internal/sim/world"
)

// Controller is the part of the world the observer server needs.
type Controller interface {
	Submit(cmd world.Command) bool
	Latest() (world.Snapshot, bool)
	Config() world.WorldConfig
	CurrentTick() uint64
}

type Server struct {
	ctl Controller
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[string]chan world.Snapshot
}

func NewServer(ctl Controller, logger *log.Logger) *Server {
	return &Server{
		ctl: ctl,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[string]chan world.Snapshot{},
	}
}

// Publish fans a snapshot out to every subscriber. A slow subscriber loses
// its oldest queued snapshot rather than stalling the others.
func (s *Server) Publish(snap world.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		sendLatest(ch, snap)
	}
}

func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) join(sid string) chan world.Snapshot {
	ch := make(chan world.Snapshot, 8)
	s.mu.Lock()
	s.subs[sid] = ch
	s.mu.Unlock()
	return ch
}

func (s *Server) leave(sid string) {
	s.mu.Lock()
	delete(s.subs, sid)
	s.mu.Unlock()
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.ctl.Config()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			RunID:           cfg.RunID,
			Tick:            s.ctl.CurrentTick(),
			Params: observerproto.WorldParams{
				TickRateHz:    cfg.TickRateHz,
				Intersections: cfg.Intersections,
				Seed:          cfg.Seed,
				MaxVehicles:   cfg.MaxVehicles,
				StopLine:      cfg.Lane.StopLine,
				LaneExit:      cfg.Lane.Exit,
				FixedStep:     cfg.FixedStep,
			},
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		normalizeSubscribe(&sub)
		var current atomic.Pointer[observerproto.SubscribeMsg]
		current.Store(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		snaps := s.join(sid)
		defer s.leave(sid)
		if snap, ok := s.ctl.Latest(); ok {
			sendLatest(snaps, snap)
		}
		acks := make(chan observerproto.AckMsg, 16)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine; the only one writing data frames to conn.
		writeErr := make(chan error, 1)
		go func() {
			write := func(v any) error {
				b, err := json.Marshal(v)
				if err != nil {
					return err
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				return conn.WriteMessage(websocket.TextMessage, b)
			}
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case ack := <-acks:
					if err := write(ack); err != nil {
						writeErr <- err
						return
					}
				case snap := <-snaps:
					out, ok := filterSnapshot(*current.Load(), snap)
					if !ok {
						continue
					}
					msg := observerproto.TickMsg{Type: "TICK", ProtocolVersion: observerproto.Version, Snapshot: out}
					if err := write(msg); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates and CONTROL messages.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var base struct {
				Type            string `json:"type"`
				ProtocolVersion string `json:"protocol_version"`
			}
			if err := json.Unmarshal(msg, &base); err != nil || base.ProtocolVersion != observerproto.Version {
				continue
			}
			switch base.Type {
			case "SUBSCRIBE":
				var upd observerproto.SubscribeMsg
				if err := json.Unmarshal(msg, &upd); err != nil {
					continue
				}
				normalizeSubscribe(&upd)
				current.Store(&upd)
			case "CONTROL":
				var c observerproto.ControlMsg
				if err := json.Unmarshal(msg, &c); err != nil {
					continue
				}
				var ack observerproto.AckMsg
				if err := observerproto.ValidateControl(msg); err != nil {
					ack = observerproto.AckMsg{Type: "ACK", ProtocolVersion: observerproto.Version, ID: c.ID, Error: err.Error()}
				} else {
					ack = s.control(sid, c)
				}
				select {
				case acks <- ack:
				default:
					// Drop acks under load; the command itself was already submitted.
				}
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

var errBusy = errors.New("command queue full")

func (s *Server) control(sid string, c observerproto.ControlMsg) observerproto.AckMsg {
	ack := observerproto.AckMsg{Type: "ACK", ProtocolVersion: observerproto.Version, ID: c.ID}
	cmd, err := CommandFor(c)
	if err == nil && !s.ctl.Submit(cmd) {
		err = errBusy
	}
	if err != nil {
		ack.Error = err.Error()
		if s.log != nil {
			s.log.Printf("observer %s: control %q rejected: %v", sid, c.Action, err)
		}
		return ack
	}
	ack.Accepted = true
	return ack
}

// CommandFor maps a CONTROL message to the world command it asks for.
func CommandFor(c observerproto.ControlMsg) (world.Command, error) {
	dur := time.Duration(c.DurationMs) * time.Millisecond
	switch strings.ToLower(c.Action) {
	case "pause":
		return world.Pause{}, nil
	case "resume":
		return world.Resume{}, nil
	case "shutdown":
		return world.Shutdown{}, nil
	case "emergency":
		if c.Intersection == nil && c.Approach == "" {
			return world.DispatchEmergency{Duration: dur}, nil
		}
		if c.Intersection == nil || c.Approach == "" {
			return nil, fmt.Errorf("emergency needs both intersection and approach")
		}
		a, err := traffic.ParseApproach(c.Approach)
		if err != nil {
			return nil, err
		}
		return world.Inject{Event: events.EmergencyDispatch{Intersection: *c.Intersection, Approach: a, PriorityDuration: dur}}, nil
	case "weather":
		k, err := weather.ParseKind(c.Weather)
		if err != nil {
			return nil, err
		}
		return world.SetWeather{Kind: k, Intensity: c.Intensity}, nil
	case "time_scale":
		if c.Scale <= 0 {
			return nil, fmt.Errorf("time_scale needs scale > 0")
		}
		return world.SetTimeScale{Scale: c.Scale}, nil
	case "density":
		if c.Factor <= 0 {
			return nil, fmt.Errorf("density needs factor > 0")
		}
		return world.AdjustDensity{Factor: c.Factor}, nil
	case "incident", "malfunction":
		at := -1
		if c.Intersection != nil {
			at = *c.Intersection
		}
		if strings.EqualFold(c.Action, "incident") {
			return world.TriggerIncident{Intersection: at, Duration: dur}, nil
		}
		return world.TriggerMalfunction{Intersection: at, Duration: dur}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", c.Action)
	}
}

func filterSnapshot(sub observerproto.SubscribeMsg, snap world.Snapshot) (world.Snapshot, bool) {
	if sub.EveryTicks > 1 && snap.Tick%uint64(sub.EveryTicks) != 0 {
		return snap, false
	}
	if !sub.IncludeVehicles {
		snap.Vehicles = nil
	}
	if !sub.IncludeEvents {
		snap.Events = nil
	}
	return snap, true
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.EveryTicks <= 0 {
		sub.EveryTicks = 1
	}
	if sub.EveryTicks > 600 {
		sub.EveryTicks = 600
	}
}

func sendLatest(ch chan world.Snapshot, snap world.Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
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
