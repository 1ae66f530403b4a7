package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"packetworld.ai/internal/observerproto"
	"packetworld.ai/internal/sim/events"
)

// Source is the running environment as seen by observers.
type Source interface {
	RunID() string
	Tick() uint64
	GameOver() bool
	Bus() *events.Bus
}

type Config struct {
	Source Source

	Scenario string
	Grid     observerproto.GridParams
	Agents   []observerproto.AgentInfo

	// Metrics is served as JSON on /v1/metrics when set.
	Metrics func() any

	// AllowRemote disables the loopback check on every endpoint.
	AllowRemote bool

	Logger *log.Logger
}

type Server struct {
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	sessions atomic.Int64
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Handler mounts every observer endpoint on a fresh mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/metrics", s.MetricsHandler())
	mux.HandleFunc("/v1/ws", s.WSHandler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte("ok"))
	})
	return mux
}

// Sessions is the number of connected websocket observers.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) allowed(r *http.Request) bool {
	return s.cfg.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			RunID:           s.cfg.Source.RunID(),
			Tick:            s.cfg.Source.Tick(),
			GameOver:        s.cfg.Source.GameOver(),
			Scenario:        s.cfg.Scenario,
			Grid:            s.cfg.Grid,
			Agents:          s.cfg.Agents,
		}
		writeJSONResponse(rw, resp)
	}
}

func (s *Server) MetricsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if s.cfg.Metrics == nil {
			http.Error(rw, "metrics disabled", http.StatusNotFound)
			return
		}
		writeJSONResponse(rw, s.cfg.Metrics())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
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
			closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}
		types, err := parseTypes(sub.Events)
		if err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, err.Error())
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		evCh, unsubscribe := s.cfg.Source.Bus().Subscribe(normalizeBuffer(sub.Buffer), types...)
		defer unsubscribe()

		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		s.log.Printf("observer %s connected from %s events=%v", sid, r.RemoteAddr, types)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case ev, ok := <-evCh:
					if !ok {
						closeWith(conn, websocket.CloseNormalClosure, "run closed")
						writeErr <- nil
						return
					}
					b, err := json.Marshal(observerproto.EventMsg{
						Type:            observerproto.TypeEvent,
						ProtocolVersion: observerproto.Version,
						Event:           ev,
					})
					if err != nil {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: observers only send control traffic after SUBSCRIBE.
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		select {
		case <-readDone:
			cancel()
			closeWith(conn, websocket.CloseNormalClosure, "bye")
			// Best-effort wait for the writer to stop so it doesn't outlive conn.
			select {
			case <-writeErr:
			case <-time.After(500 * time.Millisecond):
			}
		case err := <-writeErr:
			if err != nil {
				s.log.Printf("observer %s write: %v", sid, err)
			}
		}
		s.log.Printf("observer %s disconnected", sid)
	}
}

func parseTypes(names []string) ([]events.Type, error) {
	out := make([]events.Type, 0, len(names))
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if !observerproto.KnownEvent(n) {
			return nil, fmt.Errorf("unknown event %q", n)
		}
		out = append(out, events.Type(n))
	}
	return out, nil
}

func normalizeBuffer(n int) int {
	if n <= 0 {
		return 256
	}
	if n > 4096 {
		return 4096
	}
	return n
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSONResponse(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
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
