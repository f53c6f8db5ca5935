package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"lanshare/internal/config"
	"lanshare/internal/models"
	"lanshare/pkg/utils"
)

const Version = "1.0.0"

// Event names passed to the broadcast callback.
const (
	EventServerStarted = "serverStarted"
	EventServerStopped = "serverStopped"
	EventFileReceived  = "fileReceived"
)

var logger = logrus.WithField("component", "transfer")

type Options struct {
	MaxUploadSize   int64
	MaxConnections  int
	ShutdownTimeout time.Duration
	ResolveIP       func() string
	Broadcast       func(string, interface{})
}

// Server is the LAN transfer server. It owns at most one listening socket.
// Start, Stop and SetSavePath are serialized; handlers only take the read lock.
type Server struct {
	lifecycle sync.Mutex

	mu         sync.RWMutex
	config     config.ServerConfig
	filesRoot  string
	running    bool
	boundPort  int
	httpServer *http.Server

	maxUpload       int64
	maxConns        int
	shutdownTimeout time.Duration
	resolveIP       func() string
	broadcast       func(string, interface{})
}

func NewServer(cfg config.ServerConfig, opts Options) *Server {
	s := &Server{
		config:          cfg,
		maxUpload:       opts.MaxUploadSize,
		maxConns:        opts.MaxConnections,
		shutdownTimeout: opts.ShutdownTimeout,
		resolveIP:       opts.ResolveIP,
		broadcast:       opts.Broadcast,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = config.DefaultMaxUploadSize
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 5 * time.Second
	}
	if s.resolveIP == nil {
		s.resolveIP = utils.GetLocalIP
	}
	if s.broadcast == nil {
		s.broadcast = func(string, interface{}) {}
	}
	return s
}

// SetPort takes effect on the next Start.
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	s.config.Port = port
	s.mu.Unlock()
}

func (s *Server) SetDeviceName(name string) {
	s.mu.Lock()
	s.config.DeviceName = name
	s.mu.Unlock()
}

// SetSavePath creates the directory if needed. While running, downloads are
// served from and uploaded to the new directory immediately; existing files
// are not moved. An empty or unusable path keeps the running server on its
// current directory and only applies to the next Start.
func (s *Server) SetSavePath(path string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	var dirErr error
	if path != "" {
		if err := os.MkdirAll(path, 0o755); err != nil {
			dirErr = &Error{Kind: KindFilesystem, Op: "mkdir " + path, Err: err}
			logger.WithError(err).WithField("path", path).Warn("could not create save path")
		}
	}

	s.mu.Lock()
	s.config.SavePath = path
	if s.running && path != "" && dirErr == nil {
		s.filesRoot = path
		logger.WithField("path", path).Info("file route remounted")
	}
	s.mu.Unlock()
	return dirErr
}

func (s *Server) Config() config.ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Start binds 0.0.0.0:port and begins serving. It is a no-op if already running.
// A missing or unusable save path leaves upload and download unrouted.
func (s *Server) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.RLock()
	running := s.running
	cfg := s.config
	s.mu.RUnlock()
	if running {
		logger.Info("server is already running")
		return nil
	}

	uploads := false
	switch {
	case cfg.SavePath == "":
		logger.Warn("save path not set, file upload disabled")
	default:
		if err := os.MkdirAll(cfg.SavePath, 0o755); err != nil {
			logger.WithError(err).WithField("path", cfg.SavePath).Warn("save path unavailable, file upload disabled")
		} else {
			uploads = true
		}
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", cfg.Port))
	if err != nil {
		logger.WithError(err).WithField("port", cfg.Port).Error("failed to start transfer server")
		return &Error{Kind: KindBind, Op: "listen", Err: err}
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	srv := &http.Server{Handler: s.routes(uploads)}

	s.mu.Lock()
	s.httpServer = srv
	s.running = true
	s.boundPort = port
	s.filesRoot = ""
	if uploads {
		s.filesRoot = cfg.SavePath
	}
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("transfer server stopped unexpectedly")
			s.markStopped(srv)
		}
	}()

	url := s.URL()
	logger.WithFields(logrus.Fields{
		"port":    port,
		"url":     url,
		"uploads": uploads,
	}).Info("transfer server running, bound to 0.0.0.0")
	s.broadcast(EventServerStarted, map[string]interface{}{"url": url})
	return nil
}

// Stop closes the listener. The server is Stopped afterwards even if closing failed;
// the returned error is informational.
func (s *Server) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.RLock()
	srv := s.httpServer
	running := s.running
	s.mu.RUnlock()
	if !running || srv == nil {
		logger.Info("server is not running")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	var stopErr error
	if err := srv.Shutdown(ctx); err != nil {
		stopErr = &Error{Kind: KindClose, Op: "shutdown", Err: err}
		logger.WithError(err).Warn("graceful shutdown failed, closing")
		if err := srv.Close(); err != nil {
			logger.WithError(err).Warn("close failed")
		}
	}

	s.markStopped(srv)
	logger.Info("transfer server stopped")
	s.broadcast(EventServerStopped, nil)
	return stopErr
}

func (s *Server) markStopped(srv *http.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != srv {
		return
	}
	s.httpServer = nil
	s.running = false
	s.boundPort = 0
	s.filesRoot = ""
}

func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Port is the bound port while running, the configured port otherwise.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.running {
		return s.boundPort
	}
	return s.config.Port
}

func (s *Server) Status() models.RuntimeState {
	s.mu.RLock()
	running, port := s.running, s.boundPort
	s.mu.RUnlock()
	if !running {
		return models.RuntimeState{}
	}
	return models.RuntimeState{Running: true, BoundAddress: s.resolveIP(), Port: port}
}

// URL returns http://ip:port, or "" when stopped.
func (s *Server) URL() string {
	st := s.Status()
	if !st.Running {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", st.BoundAddress, st.Port)
}

func (s *Server) currentFilesRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filesRoot
}
