// Package server is the standalone HTTP surface over the upload tracker. It
// plays the drop-target role from the UI: it enforces the size ceiling and
// content-type allowlist, then hands accepted files to the tracker, which
// runs the simulated progression.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/harutoshi/medialens/internal/config"
	"github.com/harutoshi/medialens/internal/model"
	"github.com/harutoshi/medialens/internal/signing"
	"github.com/harutoshi/medialens/internal/tracker"
)

// Server hosts the tracker-backed HTTP handlers.
type Server struct {
	cfg     *config.Config
	tracker *tracker.Tracker
	signer  *signing.Signer
	logger  *slog.Logger
}

// New constructs a Server.
func New(cfg *config.Config, tr *tracker.Tracker, signer *signing.Signer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, tracker: tr, signer: signer, logger: logger}
}

// Serve runs the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Routes(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	s.logger.Info("server listening", "addr", s.cfg.Address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the handler tree; exported so tests can mount it on httptest.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/files", s.handleFiles)
	mux.HandleFunc("/files/", s.handleFileRoute)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/preview", s.handlePreview)
	return corsMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rejectedFile struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// handleUpload accepts a multipart batch. Every valid "file" part becomes a
// tracked record; invalid parts are reported back and never reach the
// tracker.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Generous overall cap: a batch may hold several files up to the
	// per-file limit each.
	r.Body = http.MaxBytesReader(w, r.Body, 8*s.cfg.MaxFileSize)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}

	var accepted []tracker.FileInfo
	var rejected []rejectedFile
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			http.Error(w, "malformed multipart body", http.StatusBadRequest)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		info, reason, err := s.readFilePart(part)
		part.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if reason != "" {
			rejected = append(rejected, rejectedFile{Name: info.Name, Reason: reason})
			continue
		}
		accepted = append(accepted, info)
	}

	if len(accepted) == 0 {
		if len(rejected) > 0 {
			respondJSON(w, http.StatusBadRequest, map[string]any{"rejected": rejected})
			return
		}
		http.Error(w, "no file parts in request", http.StatusBadRequest)
		return
	}

	records := s.tracker.AcceptBatch(accepted)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"files":    records,
		"rejected": rejected,
	})
}

// readFilePart drains one part. A non-empty reason means the file was
// filtered out (size or type) before the tracker ever saw it.
func (s *Server) readFilePart(part *multipart.Part) (tracker.FileInfo, string, error) {
	name := part.FileName()
	if name == "" {
		name = "upload"
	}
	info := tracker.FileInfo{Name: name}

	data, err := io.ReadAll(io.LimitReader(part, s.cfg.MaxFileSize+1))
	if err != nil {
		return info, "", fmt.Errorf("read file %q: %w", name, err)
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return info, fmt.Sprintf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize), nil
	}
	if len(data) == 0 {
		return info, "empty file", nil
	}

	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !s.cfg.Allowed(contentType) {
		return info, fmt.Sprintf("unsupported content type %q", contentType), nil
	}

	info.Size = int64(len(data))
	info.ContentType = contentType
	if model.ClassifyKind(contentType) == model.KindImage {
		info.Preview = data
	}
	return info, "", nil
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	records := s.tracker.Snapshot()
	kind := r.URL.Query().Get("kind")
	status := r.URL.Query().Get("status")
	if kind != "" || status != "" {
		filtered := make([]model.UploadRecord, 0, len(records))
		for _, rec := range records {
			if kind != "" && string(rec.Kind) != kind {
				continue
			}
			if status != "" && string(rec.Status) != status {
				continue
			}
			filtered = append(filtered, rec)
		}
		records = filtered
	}
	if records == nil {
		records = []model.UploadRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"files": records})
}

func (s *Server) handleFileRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/files/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleFile(w, r, id)
		return
	}
	switch parts[1] {
	case "preview-url":
		s.handlePreviewURL(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		rec, ok := s.tracker.Get(id)
		if !ok {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		respondJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		// Removal of an unknown identity is a no-op, not an error.
		s.tracker.Remove(id)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePreviewURL(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, ok := s.tracker.Get(id)
	if !ok || rec.PreviewKey == "" {
		http.Error(w, "preview unavailable", http.StatusNotFound)
		return
	}
	url := fmt.Sprintf("/preview?%s", s.signer.SignedQuery(id, s.cfg.SignedURLTTL))
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	id := q.Get("id")
	if !s.signer.Validate(id, q.Get("expires"), q.Get("sig")) {
		http.Error(w, "invalid or expired link", http.StatusForbidden)
		return
	}
	data, ok := s.tracker.Preview(id)
	if !ok {
		http.Error(w, "preview unavailable", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, s.tracker.Counts())
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
