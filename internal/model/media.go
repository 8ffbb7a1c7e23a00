// Package model contains the types shared between the tracker, the HTTP
// servers, and the background workers.
package model

import (
	"strings"
	"time"
)

// MediaKind classifies an upload by its declared content type.
type MediaKind string

const (
	KindImage    MediaKind = "image"
	KindVideo    MediaKind = "video"
	KindAudio    MediaKind = "audio"
	KindDocument MediaKind = "document"
)

// UploadStatus describes the lifecycle of an upload. A record moves
// pending -> uploading -> processing -> completed, or ends in error.
// completed and error are terminal.
type UploadStatus string

const (
	StatusPending    UploadStatus = "pending"
	StatusUploading  UploadStatus = "uploading"
	StatusProcessing UploadStatus = "processing"
	StatusCompleted  UploadStatus = "completed"
	StatusError      UploadStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s UploadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Active reports whether the record is mid-pipeline (uploading or processing).
func (s UploadStatus) Active() bool {
	return s == StatusUploading || s == StatusProcessing
}

// ClassifyKind derives the media kind from a declared content type.
// Classification is a fallback, not a filter: anything that is not
// image/video/audio is a document.
func ClassifyKind(contentType string) MediaKind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case strings.HasPrefix(ct, "video/"):
		return KindVideo
	case strings.HasPrefix(ct, "audio/"):
		return KindAudio
	default:
		return KindDocument
	}
}

// UploadRecord is the tracked state for one accepted file. ID is the sole key
// used for lookups, updates, and removal; Name, Size, and ContentType are
// fixed at acceptance time.
type UploadRecord struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Size        int64        `json:"size"`
	ContentType string       `json:"contentType"`
	Kind        MediaKind    `json:"kind"`
	Status      UploadStatus `json:"status"`
	Progress    int          `json:"progress"`
	PreviewKey  string       `json:"previewKey,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Media represents a row in the media_files table used by the durable
// pipeline. The extracted fields are populated by the worker.
type Media struct {
	ID          string       `json:"id"`
	FileName    string       `json:"fileName"`
	ObjectKey   string       `json:"objectKey"`
	PreviewKey  *string      `json:"previewKey,omitempty"`
	Kind        MediaKind    `json:"kind"`
	Status      UploadStatus `json:"status"`
	Progress    int          `json:"progress"`
	Size        int64        `json:"size"`
	ContentType string       `json:"contentType"`
	Width       *int         `json:"width,omitempty"`
	Height      *int         `json:"height,omitempty"`
	Text        string       `json:"text,omitempty"`
	Error       *string      `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}
