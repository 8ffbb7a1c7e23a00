// Package repository wraps all SQL used by the API and the worker.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harutoshi/medialens/internal/model"
)

// ErrNotFound is returned when no media row matches the requested id.
var ErrNotFound = errors.New("media not found")

// MediaRepository persists media records in the media_files table.
type MediaRepository struct {
	pool *pgxpool.Pool
}

// NewMediaRepository constructs a repository.
func NewMediaRepository(pool *pgxpool.Pool) *MediaRepository {
	return &MediaRepository{pool: pool}
}

const mediaColumns = `id, file_name, object_key, preview_key, kind, status, progress,
	size_bytes, content_type, width, height, COALESCE(extracted_text,''), error_message,
	created_at, updated_at`

// Create inserts a pending record; the file is already in object storage by
// the time this runs, so upload progress in durable mode is implicit.
func (r *MediaRepository) Create(ctx context.Context, m *model.Media) error {
	now := time.Now().UTC()
	m.Status = model.StatusPending
	m.CreatedAt = now
	m.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO media_files (id, file_name, object_key, kind, status, progress,
			size_bytes, content_type, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, m.ID, m.FileName, m.ObjectKey, m.Kind, m.Status, 0, m.Size, m.ContentType, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}

// Get returns one record by id.
func (r *MediaRepository) Get(ctx context.Context, id string) (*model.Media, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+mediaColumns+` FROM media_files WHERE id=$1`, id)
	m, err := scanMedia(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select media: %w", err)
	}
	return m, nil
}

// ListFilter narrows a List call; zero values mean no constraint.
type ListFilter struct {
	Kind   model.MediaKind
	Status model.UploadStatus
	Limit  int
	Offset int
}

// List returns records in insertion order, optionally filtered.
func (r *MediaRepository) List(ctx context.Context, f ListFilter) ([]*model.Media, error) {
	var conds []string
	var args []any
	if f.Kind != "" {
		args = append(args, f.Kind)
		conds = append(conds, fmt.Sprintf("kind=$%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	query := `SELECT ` + mediaColumns + ` FROM media_files`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	var out []*model.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes a record. A missing id is a silent no-op.
func (r *MediaRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM media_files WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}

// MarkProcessing sets the status to processing with full progress.
func (r *MediaRepository) MarkProcessing(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE media_files SET status=$1, progress=100, error_message=NULL, updated_at=$2
		WHERE id=$3 AND status NOT IN ($4,$5)
	`, model.StatusProcessing, time.Now().UTC(), id, model.StatusCompleted, model.StatusError)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// CompletedFields carries the worker's extraction output.
type CompletedFields struct {
	PreviewKey *string
	Width      *int
	Height     *int
	Text       string
}

// MarkCompleted finishes a record with the extracted metadata.
func (r *MediaRepository) MarkCompleted(ctx context.Context, id string, fields CompletedFields) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE media_files
		SET status=$1, progress=100,
			preview_key=COALESCE($2, preview_key),
			width=COALESCE($3, width),
			height=COALESCE($4, height),
			extracted_text=$5,
			error_message=NULL,
			updated_at=$6
		WHERE id=$7
	`, model.StatusCompleted, fields.PreviewKey, fields.Width, fields.Height, fields.Text, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure with its detail message.
func (r *MediaRepository) MarkFailed(ctx context.Context, id, detail string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE media_files SET status=$1, error_message=$2, updated_at=$3 WHERE id=$4
	`, model.StatusError, detail, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ResetForReprocess returns a record to pending so it can be enqueued again.
func (r *MediaRepository) ResetForReprocess(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE media_files
		SET status=$1, progress=0, extracted_text=NULL, error_message=NULL, updated_at=$2
		WHERE id=$3
	`, model.StatusPending, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reset media: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByStatus returns the aggregate counts over all rows, recomputed from
// the table on every call.
func (r *MediaRepository) CountByStatus(ctx context.Context) (map[model.UploadStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM media_files GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count media: %w", err)
	}
	defer rows.Close()

	out := make(map[model.UploadStatus]int)
	for rows.Next() {
		var status model.UploadStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func scanMedia(row pgx.Row) (*model.Media, error) {
	var (
		m          model.Media
		previewKey sql.NullString
		width      sql.NullInt32
		height     sql.NullInt32
		errorMsg   sql.NullString
	)
	if err := row.Scan(&m.ID, &m.FileName, &m.ObjectKey, &previewKey, &m.Kind, &m.Status,
		&m.Progress, &m.Size, &m.ContentType, &width, &height, &m.Text, &errorMsg,
		&m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if previewKey.Valid {
		key := previewKey.String
		m.PreviewKey = &key
	}
	if width.Valid {
		w := int(width.Int32)
		m.Width = &w
	}
	if height.Valid {
		h := int(height.Int32)
		m.Height = &h
	}
	if errorMsg.Valid {
		msg := errorMsg.String
		m.Error = &msg
	}
	return &m, nil
}
