package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"lanshare/internal/models"
	"lanshare/internal/session"
)

func (s *Server) sessionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.session.Snapshot())
	})
	mux.HandleFunc("GET /api/session/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.session.Messages())
	})
	mux.HandleFunc("POST /api/session/toggle", func(w http.ResponseWriter, r *http.Request) {
		s.session.ToggleService(r.Context())
		writeJSON(w, http.StatusOK, s.session.Snapshot())
	})
	mux.HandleFunc("POST /api/session/send-file", s.handleSendFile)
	mux.HandleFunc("POST /api/session/send-message", s.handleSendMessage)
	mux.HandleFunc("POST /api/session/scan", s.handleScan)
	mux.HandleFunc("POST /api/session/select", s.handleSelect)
	mux.HandleFunc("POST /api/session/secret-code", s.handleSecretCode)
	mux.HandleFunc("POST /api/session/settings", s.handleSettings)
}

func (s *Server) handleSendFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		jsonError(w, "path required", http.StatusBadRequest)
		return
	}
	msg, err := s.session.SendFile(r.Context(), body.Path)
	if errors.Is(err, session.ErrServiceStopped) {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	msg, err := s.session.SendMessage(body.Text)
	switch {
	case errors.Is(err, session.ErrServiceStopped):
		jsonError(w, err.Error(), http.StatusConflict)
	case err != nil:
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	devices, err := s.session.ScanDevices(r.Context())
	if err != nil {
		logger.WithFields(logFields(r)).WithError(err).Debug("scan returned no devices")
	}
	if devices == nil {
		devices = []models.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string `json:"id"`
		All      bool   `json:"all"`
		Selected bool   `json:"selected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if body.All {
		s.session.SelectAllDevices(body.Selected)
	} else if !s.session.SelectDevice(body.ID, body.Selected) {
		jsonError(w, "unknown device", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot().Selected)
}

func (s *Server) handleSecretCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := s.session.SetSecretCode(body.Code); err != nil {
		logger.WithFields(logFields(r)).WithError(err).Warn("secret code not stored")
		writeJSON(w, http.StatusOK, models.Result{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, models.Result{Success: true})
}

// handleSettings updates the persisted port and save path. Zero values are left unchanged.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Port     int    `json:"port"`
		SavePath string `json:"savePath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if body.Port != 0 {
		if err := s.session.SetPort(body.Port); err != nil {
			writeJSON(w, http.StatusOK, models.Result{Error: err.Error()})
			return
		}
	}
	if body.SavePath != "" {
		if err := s.session.SetSavePath(body.SavePath); err != nil {
			writeJSON(w, http.StatusOK, models.Result{Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, models.Result{Success: true})
}
