// Package api exposes the durable-pipeline HTTP endpoints: uploads land in
// object storage, metadata in Postgres, and processing jobs on the task
// queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/harutoshi/medialens/internal/config"
	"github.com/harutoshi/medialens/internal/model"
	"github.com/harutoshi/medialens/internal/queue"
	"github.com/harutoshi/medialens/internal/repository"
	"github.com/harutoshi/medialens/internal/s3storage"
)

// Server exposes HTTP endpoints for uploads and media visibility.
type Server struct {
	cfg    *config.Config
	repo   *repository.MediaRepository
	store  *s3storage.Storage
	queue  *asynq.Client
	logger *slog.Logger
}

// New constructs a Server.
func New(cfg *config.Config, repo *repository.MediaRepository, store *s3storage.Storage, queueClient *asynq.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, repo: repo, store: store, queue: queueClient, logger: logger}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/media", s.handleMedia)
	mux.HandleFunc("/media/", s.handleMediaRoute)
	mux.HandleFunc("/stats", s.handleStats)
	httpServer := &http.Server{
		Addr:    s.cfg.Address,
		Handler: corsMiddleware(s.loggingMiddleware(mux)),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", "addr", s.cfg.Address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ListFilter{
		Kind:   model.MediaKind(q.Get("kind")),
		Status: model.UploadStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}
	items, err := s.repo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list media", "error", err)
		http.Error(w, "failed to list media", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*model.Media{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"media": items})
}

func (s *Server) handleMediaRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/media/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleOne(w, r, id)
		return
	}
	switch parts[1] {
	case "text":
		s.handleText(w, r, id)
	case "preview-url":
		s.handlePreviewURL(w, r, id)
	case "download-url":
		s.handleDownloadURL(w, r, id)
	case "reprocess":
		s.handleReprocess(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleOne(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		media, err := s.getMedia(r.Context(), w, id)
		if err != nil {
			return
		}
		respondJSON(w, http.StatusOK, media)
	case http.MethodDelete:
		s.handleDelete(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	media, err := s.repo.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		// Deleting an unknown id is a no-op.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		http.Error(w, "failed to load media", http.StatusInternalServerError)
		return
	}
	if err := s.store.Remove(r.Context(), media.ObjectKey, media.PreviewKey); err != nil {
		s.logger.Error("remove objects", "media", id, "error", err)
		http.Error(w, "failed to remove stored objects", http.StatusInternalServerError)
		return
	}
	if err := s.repo.Delete(r.Context(), id); err != nil {
		http.Error(w, "failed to delete media", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	media, err := s.getMedia(r.Context(), w, id)
	if err != nil {
		return
	}
	if media.Status != model.StatusCompleted || media.Text == "" {
		http.Error(w, "media not processed", http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, media.Text)
}

func (s *Server) handlePreviewURL(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	media, err := s.getMedia(r.Context(), w, id)
	if err != nil {
		return
	}
	if media.PreviewKey == nil {
		http.Error(w, "preview unavailable", http.StatusNotFound)
		return
	}
	url, err := s.store.PresignPreviewURL(r.Context(), *media.PreviewKey, s.cfg.SignedURLTTL)
	if err != nil {
		http.Error(w, "failed to generate url", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	media, err := s.getMedia(r.Context(), w, id)
	if err != nil {
		return
	}
	url, err := s.store.PresignRawURL(r.Context(), media.ObjectKey, s.cfg.SignedURLTTL)
	if err != nil {
		http.Error(w, "failed to generate url", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	media, err := s.getMedia(r.Context(), w, id)
	if err != nil {
		return
	}
	if err := s.repo.ResetForReprocess(r.Context(), id); err != nil {
		http.Error(w, "failed to reset media", http.StatusInternalServerError)
		return
	}
	payload := queue.ProcessPayload{
		MediaID:     media.ID,
		ObjectKey:   media.ObjectKey,
		FileName:    media.FileName,
		Kind:        media.Kind,
		ContentType: media.ContentType,
	}
	if err := queue.EnqueueProcess(r.Context(), s.queue, payload); err != nil {
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     media.ID,
		"status": string(model.StatusPending),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	byStatus, err := s.repo.CountByStatus(r.Context())
	if err != nil {
		http.Error(w, "failed to count media", http.StatusInternalServerError)
		return
	}
	total := 0
	for _, n := range byStatus {
		total += n
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"active":    byStatus[model.StatusPending] + byStatus[model.StatusUploading] + byStatus[model.StatusProcessing],
		"completed": byStatus[model.StatusCompleted],
		"failed":    byStatus[model.StatusError],
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer part.Close()

	tmp, err := s.persistTemp(part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()

	if !s.cfg.Allowed(tmp.contentType) {
		http.Error(w, fmt.Sprintf("unsupported content type %q", tmp.contentType), http.StatusBadRequest)
		return
	}

	mediaID := uuid.NewString()
	objectKey := fmt.Sprintf("uploads/%s/%s", mediaID, filepath.Base(tmp.filename))
	if err := s.uploadToStorage(ctx, objectKey, tmp); err != nil {
		s.logger.Error("upload to storage failed", "error", err)
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}

	media := &model.Media{
		ID:          mediaID,
		FileName:    tmp.filename,
		ObjectKey:   objectKey,
		Kind:        model.ClassifyKind(tmp.contentType),
		Size:        tmp.size,
		ContentType: tmp.contentType,
	}
	if err := s.repo.Create(ctx, media); err != nil {
		http.Error(w, "failed to store metadata", http.StatusInternalServerError)
		return
	}

	payload := queue.ProcessPayload{
		MediaID:     mediaID,
		ObjectKey:   objectKey,
		FileName:    tmp.filename,
		Kind:        media.Kind,
		ContentType: tmp.contentType,
	}
	if err := queue.EnqueueProcess(ctx, s.queue, payload); err != nil {
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     mediaID,
		"name":   tmp.filename,
		"kind":   string(media.Kind),
		"status": string(model.StatusPending),
	})
}

// getMedia loads one record or writes the error response and returns non-nil
// error so callers can bail.
func (s *Server) getMedia(ctx context.Context, w http.ResponseWriter, id string) (*model.Media, error) {
	media, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "media not found", http.StatusNotFound)
		return nil, err
	}
	if err != nil {
		http.Error(w, "failed to load media", http.StatusInternalServerError)
		return nil, err
	}
	return media, nil
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

// persistTemp streams one multipart part to a temp file, enforcing the size
// ceiling and sniffing the content type from the first bytes.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "medialens-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}

	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				cleanup()
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				cleanup()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			cleanup()
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		cleanup()
		return nil, errors.New("empty file")
	}

	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(sniff)
	}
	if _, err := tmpFile.Seek(0, 0); err != nil {
		cleanup()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: contentType,
		filename:    filename,
	}, nil
}

func (s *Server) uploadToStorage(ctx context.Context, objectKey string, tmp *tempUpload) error {
	if _, err := tmp.f.Seek(0, 0); err != nil {
		return err
	}
	return s.store.UploadRaw(ctx, objectKey, tmp.f, tmp.size, tmp.contentType)
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
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
