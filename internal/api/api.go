package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"lanshare/internal/config"
	"lanshare/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes Control and the session state as a JSON API on a loopback
// address, and pushes events to websocket clients.
type Server struct {
	control *Control
	session *session.State

	wsClients map[*websocket.Conn]bool
	wsMu      sync.Mutex

	httpServer *http.Server
}

// NewServer builds the control API. state may be nil, in which case the
// /api/session routes are not registered.
func NewServer(control *Control, state *session.State) *Server {
	return &Server{
		control:   control,
		session:   state,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// SetControl and SetSession wire dependencies that need Broadcast before they
// can be built. Call them before serving.
func (s *Server) SetControl(c *Control) { s.control = c }

func (s *Server) SetSession(state *session.State) { s.session = state }

// Broadcast sends a JSON message to all connected WebSocket clients.
func (s *Server) Broadcast(msgType string, payload interface{}) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	msg := map[string]interface{}{"type": msgType, "payload": payload}
	for conn := range s.wsClients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			delete(s.wsClients, conn)
		}
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/lan-share/start", s.handleStart)
	mux.HandleFunc("POST /api/lan-share/stop", s.handleStop)
	mux.HandleFunc("GET /api/lan-share/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.control.Status())
	})
	mux.HandleFunc("GET /api/lan-share/files", s.handleFiles)
	mux.HandleFunc("GET /api/lan-share/url", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.control.GetServerURL())
	})
	mux.HandleFunc("GET /api/lan-share/qrcode", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.control.GetServerQRCode())
	})
	mux.HandleFunc("POST /api/lan-share/device-name", s.handleDeviceName)

	mux.HandleFunc("GET /api/hostname", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.control.GetHostname())
	})
	mux.HandleFunc("GET /api/ip", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.control.GetIP())
	})
	mux.HandleFunc("GET /api/downloads-path", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.control.GetDownloadsPath())
	})
	mux.HandleFunc("GET /api/select-directory", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.control.SelectDirectory(r.Context()))
	})

	if s.session != nil {
		s.sessionRoutes(mux)
	}
	mux.HandleFunc("GET /ws", s.handleWS)

	return mux
}

// ListenAndServe binds addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.wsMu.Lock()
	s.httpServer = srv
	s.wsMu.Unlock()

	logger.WithField("addr", ln.Addr().String()).Info("control API listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the control API and drops websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsMu.Lock()
	srv := s.httpServer
	for conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ---- Host control ----

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var cfg config.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.control.Start(cfg))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.control.Stop(r.Context()))
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		dir = s.control.server.Config().SavePath
	}
	writeJSON(w, http.StatusOK, s.control.GetFileList(dir))
}

func (s *Server) handleDeviceName(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if s.session != nil {
		writeJSON(w, http.StatusOK, s.session.SetDeviceName(body.Name))
		return
	}
	writeJSON(w, http.StatusOK, s.control.SetDeviceName(body.Name))
}

// ---- WebSocket ----

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	s.wsMu.Lock()
	s.wsClients[conn] = true
	s.wsMu.Unlock()
	logger.WithField("remote", r.RemoteAddr).Debug("websocket client connected")

	// read pump to detect disconnects
	go func() {
		defer func() {
			s.wsMu.Lock()
			delete(s.wsClients, conn)
			s.wsMu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) clientCount() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.wsClients)
}

// ---- Helpers ----

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Debug("response write failed")
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// logFields is shared by handlers that log the request target.
func logFields(r *http.Request) logrus.Fields {
	return logrus.Fields{"method": r.Method, "path": r.URL.Path}
}
