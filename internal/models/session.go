package models

import "time"

// Session is a persisted unit of extracted or edited text. The title is a
// human-readable timestamp label fixed at creation; only the text mutates.
type Session struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
