package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"lanshare/internal/models"
)

func (s *Server) routes(uploads bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /test", s.handleTest)
	if uploads {
		mux.HandleFunc("POST /upload", s.handleUpload)
	}
	mux.HandleFunc("GET /files/{name...}", s.handleFiles)
	return withCORS(logRequests(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"serverTime": models.FormatTime(time.Now()),
		"version":    Version,
	})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Test endpoint is working",
		"ip":      s.resolveIP(),
		"port":    s.Port(),
		"time":    models.FormatTime(time.Now()),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		jsonError(w, "No file uploaded", http.StatusBadRequest)
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.WithError(err).Warn("malformed multipart upload")
			jsonError(w, "Malformed upload", http.StatusBadRequest)
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			part.Close()
			continue
		}

		uploaded, err := s.saveUpload(part.FileName(), part)
		part.Close()
		switch {
		case errors.Is(err, errTooLarge):
			jsonError(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		case err != nil:
			logger.WithError(err).WithField("file", part.FileName()).Error("upload failed")
			jsonError(w, "Failed to save file", http.StatusInternalServerError)
			return
		}

		logger.WithFields(logrus.Fields{
			"file":   uploaded.StoredName,
			"size":   uploaded.Size,
			"remote": r.RemoteAddr,
		}).Info("file received")
		s.broadcast(EventFileReceived, uploaded)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"file":    uploaded,
		})
		return
	}

	jsonError(w, "No file uploaded", http.StatusBadRequest)
}

var errTooLarge = errors.New("file exceeds upload limit")

func (s *Server) saveUpload(original string, src io.Reader) (*models.UploadedFile, error) {
	// uploads land where /files serves from so the returned URL resolves
	dir := s.currentFilesRoot()
	if dir == "" {
		return nil, &Error{Kind: KindFilesystem, Op: "create", Err: errors.New("no save directory mounted")}
	}
	original = cleanName(original)

	dst, stored, err := createStored(dir, original)
	if err != nil {
		return nil, &Error{Kind: KindFilesystem, Op: "create", Err: err}
	}
	dstPath := dst.Name()

	n, err := io.Copy(dst, io.LimitReader(src, s.maxUpload+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxUpload {
		err = errTooLarge
	}
	if err != nil {
		os.Remove(dstPath)
		return nil, err
	}

	return &models.UploadedFile{
		OriginalName: original,
		StoredName:   stored,
		Path:         dstPath,
		Size:         n,
		URL:          fmt.Sprintf("http://%s:%d/files/%s", s.resolveIP(), s.Port(), url.PathEscape(stored)),
	}, nil
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	root := s.currentFilesRoot()
	name := r.PathValue("name")
	if root == "" || name == "" {
		http.NotFound(w, r)
		return
	}

	full := filepath.Join(root, filepath.FromSlash(path.Clean("/"+name)))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"remote": r.RemoteAddr,
		}).Debug("request")
		next.ServeHTTP(w, r)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
