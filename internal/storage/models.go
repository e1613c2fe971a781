package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session is one chat session and the note mirroring it.
type Session struct {
	ID           string    `json:"id"`
	NotePath     string    `json:"note_path"`
	Title        string    `json:"title"`
	State        string    `json:"state"`
	Messages     int       `json:"messages"`
	UserMessages int       `json:"user_messages"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
