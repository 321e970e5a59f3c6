package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"keenscan/internal/models"
)

// CreateSession inserts a new session and returns the stored record. The title
// is fixed at creation and never updated afterwards.
func (s *Service) CreateSession(ctx context.Context, title, text string) (*models.Session, error) {
	if title == "" {
		return nil, errors.New("title is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (title, text, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		title, text, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	s.notifySessionsChanged()
	return &models.Session{ID: id, Title: title, Text: text, CreatedAt: now, UpdatedAt: now}, nil
}

// GetSession returns one session by id, sql.ErrNoRows when absent.
func (s *Service) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	if id <= 0 {
		return nil, errors.New("invalid session id")
	}
	var se models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, text, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&se.ID, &se.Title, &se.Text, &se.CreatedAt, &se.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &se, nil
}

// UpdateSessionText overwrites the session text. The write is all-or-nothing:
// a failed update leaves the previous text in place.
func (s *Service) UpdateSessionText(ctx context.Context, id int64, text string) error {
	if id <= 0 {
		return errors.New("invalid session id")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET text = ?, updated_at = ? WHERE id = ?`,
		text, now, id,
	)
	if err != nil {
		return fmt.Errorf("update session text: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	s.notifySessionsChanged()
	return nil
}

// DeleteSession removes a session.
func (s *Service) DeleteSession(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid session id")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	s.notifySessionsChanged()
	return nil
}

// ListSessions returns all sessions ordered by last activity.
func (s *Service) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, text, created_at, updated_at FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var se models.Session
		if err := rows.Scan(&se.ID, &se.Title, &se.Text, &se.CreatedAt, &se.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, se)
	}
	return sessions, rows.Err()
}
