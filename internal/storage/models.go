package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type UpdateRecord struct {
	Email        string
	LastUpdateAt time.Time
}

// Submission is one delivered status update.
type Submission struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	ChannelID string    `json:"channel_id"`
	Source    string    `json:"source"` // "text", "audio" or "pdf"
	EventKey  string    `json:"event_key"`
	CreatedAt time.Time `json:"created_at"`
}
