package persist

import (
	"encoding/json"
	"time"
)

// Chat is one stored conversation with a character.
type Chat struct {
	ID            string
	CharacterName string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChatMessage is a stored chat entry. Extra holds the message's free-form
// metadata (tool invocations, titles, attachments) as JSON.
type ChatMessage struct {
	ID         int64
	ChatID     string
	Name       string
	Mes        string
	IsUser     bool
	IsSystem   bool
	Extra      json.RawMessage
	TokenCount int
	CreatedAt  time.Time
}

// scanner interface for both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
