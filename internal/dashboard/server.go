// Package dashboard serves a read-only HTTP/websocket status view of the
// guiding engine: current state, the active calibration, recent guide steps
// and settle progress. It is additive to the system's GUI non-goal, which
// excludes the frame/graphs/dialogs widget application, not a status page.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"photonic/internal/calibration"
	"photonic/internal/guider"
)

// Data is the full status snapshot served at /api/state and broadcast to
// websocket subscribers on every GuideStep.
type Data struct {
	GuiderState  string                  `json:"guiderState"`
	Paused       string                  `json:"paused"`
	Calibration  *calibration.Data       `json:"calibration,omitempty"`
	RecentSteps  []guider.GuideStepInfo  `json:"recentSteps"`
	Settle       SettleStatus            `json:"settle"`
	Timestamp    time.Time               `json:"timestamp"`
}

// SettleStatus summarizes the controller's active settle window, if any.
type SettleStatus struct {
	Active    bool    `json:"active"`
	Distance  float64 `json:"distance"`
	InRangeS  float64 `json:"inRangeSeconds"`
	ElapsedS  float64 `json:"elapsedSeconds"`
}

const maxRecentSteps = 200

// Server is the read-only dashboard HTTP server: a gorilla/mux router plus
// a websocket broadcast hub, mirroring this codebase's usual web-server
// shape.
type Server struct {
	port int
	log  *slog.Logger

	upgrader websocket.Upgrader
	hub       *hub

	mu          sync.RWMutex
	state       string
	paused      string
	calibration *calibration.Data
	recent      []guider.GuideStepInfo
	settle      SettleStatus

	httpServer *http.Server
}

type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *hub) register(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *hub) unregister(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.Close()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			delete(h.clients, c)
			c.Close()
		}
	}
}

// New returns a dashboard Server listening on the given port once Start is
// called.
func New(port int, log *slog.Logger) *Server {
	return &Server{
		port:     port,
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		hub:      newHub(),
		state:    "Unitialized",
		paused:   "none",
	}
}

// Start begins serving HTTP in the background. Call Stop to shut down.
func (s *Server) Start(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{Addr: formatAddr(s.port), Handler: r}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("dashboard: server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// SetState updates the reported guider state and pause flag.
func (s *Server) SetState(state, paused string) {
	s.mu.Lock()
	s.state, s.paused = state, paused
	s.mu.Unlock()
}

// SetCalibration updates the reported active calibration.
func (s *Server) SetCalibration(cal *calibration.Data) {
	s.mu.Lock()
	s.calibration = cal
	s.mu.Unlock()
}

// SetSettle updates the reported settle-window status.
func (s *Server) SetSettle(status SettleStatus) {
	s.mu.Lock()
	s.settle = status
	s.mu.Unlock()
}

// PushGuideStep appends a GuideStep to the recent-steps ring buffer and
// broadcasts the updated snapshot to every connected websocket client.
func (s *Server) PushGuideStep(step guider.GuideStepInfo) {
	s.mu.Lock()
	s.recent = append(s.recent, step)
	if len(s.recent) > maxRecentSteps {
		s.recent = s.recent[len(s.recent)-maxRecentSteps:]
	}
	data := s.snapshotLocked()
	s.mu.Unlock()

	if msg, err := json.Marshal(data); err == nil {
		s.hub.broadcast(msg)
	}
}

func (s *Server) snapshotLocked() Data {
	return Data{
		GuiderState: s.state,
		Paused:      s.paused,
		Calibration: s.calibration,
		RecentSteps: append([]guider.GuideStepInfo(nil), s.recent...),
		Settle:      s.settle,
		Timestamp:   time.Now(),
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	data := s.snapshotLocked()
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("dashboard: websocket upgrade failed", "error", err)
		return
	}
	s.hub.register(conn)
	defer s.hub.unregister(conn)

	s.mu.RLock()
	data := s.snapshotLocked()
	s.mu.RUnlock()
	if msg, err := json.Marshal(data); err == nil {
		conn.WriteMessage(websocket.TextMessage, msg)
	}

	// Drain and discard any client reads so the connection's read deadline
	// keeps advancing; the dashboard is push-only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func formatAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
