package models

import (
	"database/sql"
	"time"
)

// Notification is the model for the 'notifications' table.
// Metadata is a free-form key/value bag stored as a JSON column.
type Notification struct {
	ID        int64             `json:"id" db:"id"`
	UserID    int64             `json:"userId" db:"user_id"`
	Title     string            `json:"title" db:"title"`
	Message   string            `json:"message" db:"message"`
	Category  string            `json:"category" db:"category"`
	Link      sql.NullString    `json:"link,omitempty" db:"link"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	IsRead    bool              `json:"isRead" db:"is_read"`
	CreatedAt time.Time         `json:"createdAt" db:"created_at"`
}
