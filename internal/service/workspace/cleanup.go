package workspace

import (
	"context"
	"log"
	"time"

	"keenscan/internal/models"
)

const DefaultUploadCleanupInterval = time.Hour

// StartUploadCleaner reaps expired uploads in the background until the
// context is cancelled. Uploads are normally released by the batch that
// consumes them; the cleaner catches files that were uploaded and abandoned.
func (s *Service) StartUploadCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultUploadCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupExpiredUploads(ctx); err != nil {
				log.Printf("cleanup uploads error: %v", err)
			}
		}
	}
}

func (s *Service) cleanupExpiredUploads(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_name, stored_path, mime_type, size, created_at, expires_at
		 FROM uploads WHERE expires_at <= ?`, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	var expired []*models.Upload
	for rows.Next() {
		u := new(models.Upload)
		if err := rows.Scan(&u.ID, &u.FileName, &u.StoredPath, &u.MimeType, &u.Size, &u.CreatedAt, &u.ExpiresAt); err != nil {
			return err
		}
		expired = append(expired, u)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range expired {
		if err := s.ReleaseUpload(ctx, u); err != nil {
			log.Printf("release expired upload %d (%s): %v", u.ID, u.FileName, err)
		}
	}
	return nil
}
