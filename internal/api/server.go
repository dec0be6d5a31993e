package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benaskins/gateboot/internal/boot"
	"github.com/benaskins/gateboot/internal/history"
	"github.com/benaskins/gateboot/internal/launcher"
)

const (
	// activeTick paces extra event frames while a run is in flight so
	// elapsed and progress keep moving between state changes.
	activeTick   = time.Second
	writeTimeout = 5 * time.Second
)

// Supervisor is the boot surface the API drives.
type Supervisor interface {
	Start(ctx context.Context) uint64
	Cancel(ctx context.Context)
	Reset()
	Snapshot() boot.Snapshot
	Subscribe() (<-chan boot.Snapshot, func())
}

// Process reports on the gateway process itself.
type Process interface {
	Status(ctx context.Context) launcher.Status
	Logs(n int) []string
	Doctor(ctx context.Context) []launcher.Check
	Models(ctx context.Context) ([]json.RawMessage, error)
	Connection() launcher.Connection
}

// Runs lists settled runs.
type Runs interface {
	Runs() ([]history.Record, error)
}

// GatewayView is the boot snapshot plus the process status.
type GatewayView struct {
	boot.Snapshot
	Process *launcher.Status `json:"process,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local socket and loopback only; browsers on other origins are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the gateboot REST API over a Unix socket.
type Server struct {
	sup     Supervisor
	process Process
	runs    Runs
	server  *http.Server
	logger  *slog.Logger
	ctx     context.Context
	tick    time.Duration
}

// NewServer creates an API server. process and runs may be nil. Launches
// requested over the API are bounded by ctx, not by the HTTP request.
func NewServer(sup Supervisor, process Process, runs Runs, ctx context.Context) *Server {
	s := &Server{
		sup:     sup,
		process: process,
		runs:    runs,
		logger:  slog.With("component", "api"),
		ctx:     ctx,
		tick:    activeTick,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.health)
	mux.HandleFunc("GET /v1/gateway", s.getGateway)
	mux.HandleFunc("POST /v1/gateway/start", s.startGateway)
	mux.HandleFunc("POST /v1/gateway/cancel", s.cancelGateway)
	mux.HandleFunc("POST /v1/gateway/reset", s.resetGateway)
	mux.HandleFunc("GET /v1/gateway/logs", s.gatewayLogs)
	mux.HandleFunc("GET /v1/gateway/runs", s.gatewayRuns)
	mux.HandleFunc("GET /v1/gateway/doctor", s.gatewayDoctor)
	mux.HandleFunc("GET /v1/gateway/models", s.gatewayModels)
	mux.HandleFunc("GET /v1/gateway/connection", s.gatewayConnection)
	mux.HandleFunc("GET /v1/gateway/events", s.gatewayEvents)

	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server. Event streams end when the
// server context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) view(ctx context.Context) GatewayView {
	v := GatewayView{Snapshot: s.sup.Snapshot()}
	if s.process != nil {
		st := s.process.Status(ctx)
		v.Process = &st
	}
	return v
}

func (s *Server) getGateway(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view(r.Context()))
}

func (s *Server) startGateway(w http.ResponseWriter, r *http.Request) {
	runID := s.sup.Start(s.ctx)
	s.logger.Info("start requested", "run_id", runID)
	writeJSON(w, http.StatusAccepted, s.sup.Snapshot())
}

func (s *Server) cancelGateway(w http.ResponseWriter, r *http.Request) {
	s.sup.Cancel(s.ctx)
	writeJSON(w, http.StatusAccepted, s.sup.Snapshot())
}

func (s *Server) resetGateway(w http.ResponseWriter, r *http.Request) {
	s.sup.Reset()
	writeJSON(w, http.StatusAccepted, s.sup.Snapshot())
}

func (s *Server) gatewayLogs(w http.ResponseWriter, r *http.Request) {
	n := 0
	if q := r.URL.Query().Get("n"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be a non-negative integer"})
			return
		}
		n = parsed
	}

	logs := []string{}
	if s.process != nil {
		if lines := s.process.Logs(n); lines != nil {
			logs = lines
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"logs": logs})
}

func (s *Server) gatewayRuns(w http.ResponseWriter, r *http.Request) {
	runs := []history.Record{}
	if s.runs != nil {
		recorded, err := s.runs.Runs()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if recorded != nil {
			runs = recorded
		}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) gatewayDoctor(w http.ResponseWriter, r *http.Request) {
	if !s.haveProcess(w) {
		return
	}
	checks := s.process.Doctor(r.Context())
	if checks == nil {
		checks = []launcher.Check{}
	}
	writeJSON(w, http.StatusOK, map[string][]launcher.Check{"checks": checks})
}

// gatewayModels proxies the gateway's model list. A gateway that cannot
// answer yields an empty list with the error alongside.
func (s *Server) gatewayModels(w http.ResponseWriter, r *http.Request) {
	if !s.haveProcess(w) {
		return
	}
	resp := struct {
		Data  []json.RawMessage `json:"data"`
		Error string            `json:"error,omitempty"`
	}{Data: []json.RawMessage{}}

	models, err := s.process.Models(r.Context())
	if err != nil {
		resp.Error = err.Error()
	} else if models != nil {
		resp.Data = models
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) gatewayConnection(w http.ResponseWriter, r *http.Request) {
	if !s.haveProcess(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.process.Connection())
}

func (s *Server) haveProcess(w http.ResponseWriter) bool {
	if s.process == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no gateway configured"})
		return false
	}
	return true
}

// gatewayEvents streams one JSON snapshot per text frame: the current one on
// connect, one per state change, and one per tick while a run is active.
func (s *Server) gatewayEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.sup.Subscribe()
	defer unsubscribe()

	// Reads only surface the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	send := func(snap boot.Snapshot) bool {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(snap); err != nil {
			s.logger.Debug("event stream write failed", "error", err)
			return false
		}
		return true
	}

	var active bool
	for {
		select {
		case <-closed:
			return
		case <-s.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
				time.Now().Add(writeTimeout))
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			active = snap.Phase.Active()
			if !send(snap) {
				return
			}
		case <-ticker.C:
			if !active {
				continue
			}
			if !send(s.sup.Snapshot()) {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
