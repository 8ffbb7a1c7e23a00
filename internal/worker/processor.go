// Package worker runs the background processing jobs behind the durable
// pipeline.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/harutoshi/medialens/internal/extract"
	"github.com/harutoshi/medialens/internal/model"
	"github.com/harutoshi/medialens/internal/notify"
	"github.com/harutoshi/medialens/internal/queue"
	"github.com/harutoshi/medialens/internal/repository"
	"github.com/harutoshi/medialens/internal/s3storage"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	repo     *repository.MediaRepository
	store    *s3storage.Storage
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(repo *repository.MediaRepository, store *s3storage.Storage, notifier notify.Notifier, logger *slog.Logger) *Processor {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{repo: repo, store: store, notifier: notifier, logger: logger}
}

// Handler registers the processing job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessMediaTask, p.handleProcess)
	return mux
}

func (p *Processor) handleProcess(ctx context.Context, task *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	failure := func(err error) error {
		p.logger.Error("processing failed", "media", payload.MediaID, "file", payload.FileName, "error", err)
		_ = p.repo.MarkFailed(ctx, payload.MediaID, err.Error())
		msg := fmt.Sprintf("%s failed: %v", payload.FileName, err)
		if nerr := p.notifier.Notify(ctx, notify.SeverityError, "MediaLens - Processing Failed", msg); nerr != nil {
			p.logger.Warn("failure notification failed", "media", payload.MediaID, "error", nerr)
		}
		return err
	}

	if err := p.repo.MarkProcessing(ctx, payload.MediaID); err != nil {
		return failure(err)
	}
	data, err := p.store.DownloadRaw(ctx, payload.ObjectKey)
	if err != nil {
		return failure(err)
	}

	fields, err := p.extractFields(ctx, payload, data)
	if err != nil {
		return failure(err)
	}
	if err := p.repo.MarkCompleted(ctx, payload.MediaID, fields); err != nil {
		return failure(err)
	}

	p.logger.Info("media processed", "media", payload.MediaID, "file", payload.FileName, "kind", payload.Kind)
	msg := fmt.Sprintf("%s processed successfully", payload.FileName)
	if err := p.notifier.Notify(ctx, notify.SeveritySuccess, "MediaLens - Processing Complete", msg); err != nil {
		p.logger.Warn("completion notification failed", "media", payload.MediaID, "error", err)
	}
	return nil
}

// extractFields dispatches by media kind. Audio and video currently complete
// with their declared metadata only; OCR and transcription live behind the
// out-of-scope model services.
func (p *Processor) extractFields(ctx context.Context, payload queue.ProcessPayload, data []byte) (repository.CompletedFields, error) {
	var fields repository.CompletedFields
	switch payload.Kind {
	case model.KindDocument:
		text, err := extract.DocumentText(data, payload.ContentType)
		if err != nil {
			return fields, err
		}
		fields.Text = text
	case model.KindImage:
		meta, err := extract.ProbeImage(data)
		if err != nil {
			return fields, err
		}
		fields.Width = &meta.Width
		fields.Height = &meta.Height
		previewKey := PreviewKey(payload.ObjectKey)
		if err := p.store.UploadPreview(ctx, previewKey, data, payload.ContentType); err != nil {
			return fields, err
		}
		fields.PreviewKey = &previewKey
	case model.KindVideo, model.KindAudio:
		// No extractor yet; completing the record keeps the lifecycle honest.
	}
	return fields, nil
}

// PreviewKey derives the preview object key from a raw object key.
func PreviewKey(objectKey string) string {
	ext := filepath.Ext(objectKey)
	return strings.TrimSuffix(objectKey, ext) + ".preview" + ext
}
