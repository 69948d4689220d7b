package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDisabled is returned when a caller needs a store but storage is disabled.
	ErrDisabled = errors.New("storage disabled")
	// ErrDuplicate is returned by AddRow when the message ID already exists
	// (file and redis drivers; sqlite reports its own constraint error).
	ErrDuplicate = errors.New("storage: duplicate message id")
	// ErrEmptyTemplate is returned by RemoveRow for a template with no fields set.
	ErrEmptyTemplate = errors.New("storage: empty template")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: closed")
)

// RowStore is the row store capability consumed by task bodies.
type RowStore interface {
	CreateTable(ctx context.Context) error
	// AddRow inserts m. A missing ID or CreatedAt is filled in on m.
	AddRow(ctx context.Context, m *Message) error
	// RemoveRow deletes every row matching the template.
	RemoveRow(ctx context.Context, tpl *Message) error
	// GetRow returns every row matching the template, oldest first.
	GetRow(ctx context.Context, tpl *Message) ([]Message, error)
	Close() error
}

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // sqlite database or file store prefix
	BusyTimeout time.Duration // sqlite only; 0 means default
	RedisURL    string        // redis only, e.g. redis://localhost:6379/0
	RedisPrefix string        // redis only; default "dayong:"
}

// Message is one stored chat message.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id,omitempty"`
	AuthorID  string    `json:"author_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsZero reports whether no field is set.
func (m *Message) IsZero() bool {
	return m == nil || (m.ID == "" && m.ChannelID == "" && m.AuthorID == "" &&
		m.Content == "" && m.Source == "" && m.CreatedAt.IsZero())
}

// Matches reports whether row carries every non-zero field of the template m.
// A nil or zero template matches everything.
func (m *Message) Matches(row Message) bool {
	if m == nil {
		return true
	}
	switch {
	case m.ID != "" && m.ID != row.ID:
		return false
	case m.ChannelID != "" && m.ChannelID != row.ChannelID:
		return false
	case m.AuthorID != "" && m.AuthorID != row.AuthorID:
		return false
	case m.Content != "" && m.Content != row.Content:
		return false
	case m.Source != "" && m.Source != row.Source:
		return false
	case !m.CreatedAt.IsZero() && !m.CreatedAt.Equal(row.CreatedAt):
		return false
	}
	return true
}
