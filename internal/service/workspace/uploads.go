package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"keenscan/internal/models"
)

const DefaultUploadTTL = 24 * time.Hour

// RecordUpload stores the metadata row for a saved file and returns its id.
func (s *Service) RecordUpload(ctx context.Context, fileName, storedPath, mimeType string, size int64, ttl time.Duration) (int64, error) {
	if fileName == "" || storedPath == "" {
		return 0, errors.New("file name and path are required")
	}
	if ttl <= 0 {
		ttl = DefaultUploadTTL
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (file_name, stored_path, mime_type, size, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		fileName, storedPath, mimeType, size, now, now.Add(ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("record upload: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("upload id: %w", err)
	}
	return id, nil
}

// GetUpload returns one upload by id, sql.ErrNoRows when absent.
func (s *Service) GetUpload(ctx context.Context, id int64) (*models.Upload, error) {
	if id <= 0 {
		return nil, errors.New("invalid upload id")
	}
	var u models.Upload
	err := s.db.QueryRowContext(ctx,
		`SELECT id, file_name, stored_path, mime_type, size, created_at, expires_at
		 FROM uploads WHERE id = ?`, id,
	).Scan(&u.ID, &u.FileName, &u.StoredPath, &u.MimeType, &u.Size, &u.CreatedAt, &u.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return &u, nil
}

// GetUploadsByIDs fetches the uploads for the given ids. Callers are
// responsible for reordering to match the requested sequence.
func (s *Service) GetUploadsByIDs(ctx context.Context, ids []int64) ([]*models.Upload, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_name, stored_path, mime_type, size, created_at, expires_at
		 FROM uploads WHERE id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*models.Upload
	for rows.Next() {
		u := new(models.Upload)
		if err := rows.Scan(&u.ID, &u.FileName, &u.StoredPath, &u.MimeType, &u.Size, &u.CreatedAt, &u.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// ReleaseUpload removes the stored file and its record. Releasing an upload
// whose file is already gone only drops the record.
func (s *Service) ReleaseUpload(ctx context.Context, u *models.Upload) error {
	if u == nil || u.ID <= 0 {
		return errors.New("invalid upload")
	}
	if err := os.Remove(u.StoredPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload file: %w", err)
	}
	// prune empty directories
	_ = os.Remove(filepath.Dir(u.StoredPath))
	if _, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, u.ID); err != nil {
		return fmt.Errorf("delete upload record: %w", err)
	}
	return nil
}

// UploadStorageUsage reports the total bytes of pending uploads.
func (s *Service) UploadStorageUsage(ctx context.Context) (int64, error) {
	var usage sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(size) FROM uploads`).Scan(&usage); err != nil {
		return 0, fmt.Errorf("upload usage: %w", err)
	}
	return usage.Int64, nil
}
