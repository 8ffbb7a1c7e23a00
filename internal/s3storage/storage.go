// Package s3storage wraps MinIO/S3 access for raw uploads and image previews.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/harutoshi/medialens/internal/config"
)

// Storage holds the MinIO client plus the bucket layout.
type Storage struct {
	client        *minio.Client
	rawBucket     string
	previewBucket string
	region        string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:        client,
		rawBucket:     cfg.RawBucket,
		previewBucket: cfg.PreviewBucket,
		region:        cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure both buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.rawBucket, s.previewBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// UploadRaw streams an uploaded file into the raw bucket.
func (s *Storage) UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.rawBucket, objectKey, reader, size, opts); err != nil {
		return fmt.Errorf("upload raw object: %w", err)
	}
	return nil
}

// UploadPreview stores preview bytes for an image record.
func (s *Storage) UploadPreview(ctx context.Context, objectKey string, data []byte, contentType string) error {
	reader := bytes.NewReader(data)
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.previewBucket, objectKey, reader, int64(len(data)), opts); err != nil {
		return fmt.Errorf("upload preview object: %w", err)
	}
	return nil
}

// DownloadRaw fetches the raw bytes of an upload.
func (s *Storage) DownloadRaw(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.rawBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get raw object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read raw object: %w", err)
	}
	return buf, nil
}

// Remove deletes the raw object and, when present, the preview. Previews are
// released together with their record, never leaked.
func (s *Storage) Remove(ctx context.Context, objectKey string, previewKey *string) error {
	if err := s.client.RemoveObject(ctx, s.rawBucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove raw object: %w", err)
	}
	if previewKey != nil && *previewKey != "" {
		if err := s.client.RemoveObject(ctx, s.previewBucket, *previewKey, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove preview object: %w", err)
		}
	}
	return nil
}

// PresignPreviewURL returns a signed GET URL for a preview object.
func (s *Storage) PresignPreviewURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.previewBucket, objectKey, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign preview object: %w", err)
	}
	return u.String(), nil
}

// PresignRawURL returns a signed GET URL for the original upload.
func (s *Storage) PresignRawURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.rawBucket, objectKey, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign raw object: %w", err)
	}
	return u.String(), nil
}
