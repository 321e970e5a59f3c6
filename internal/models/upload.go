package models

import "time"

// Upload represents a user-uploaded document awaiting extraction. Uploads are
// transient: consumed by exactly one batch and removed afterwards, or reaped
// once expired.
type Upload struct {
	ID         int64     `json:"id"`
	FileName   string    `json:"file_name"`
	StoredPath string    `json:"stored_path"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsPDF reports whether the upload is a paginated document rather than an image.
func (u *Upload) IsPDF() bool {
	return u.MimeType == "application/pdf"
}
