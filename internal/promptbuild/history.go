package promptbuild

import (
	"encoding/json"
	"fmt"

	"github.com/kayz/tavernkit/internal/persist"
)

// HistoryStore reads stored chats. *persist.Store implements it.
type HistoryStore interface {
	ChatMessages(chatID string, limit int) ([]persist.ChatMessage, error)
}

// LoadChatHistory reads up to limit of a chat's newest messages, oldest first.
func LoadChatHistory(store HistoryStore, chatID string, limit int) ([]ChatMessage, error) {
	records, err := store.ChatMessages(chatID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ChatMessage, 0, len(records))
	for _, r := range records {
		msg := ChatMessage{
			Name:     r.Name,
			Mes:      r.Mes,
			IsUser:   r.IsUser,
			IsSystem: r.IsSystem,
		}
		if len(r.Extra) > 0 {
			if err := json.Unmarshal(r.Extra, &msg.Extra); err != nil {
				return nil, fmt.Errorf("decode extra of message %d: %w", r.ID, err)
			}
		}
		if r.TokenCount > 0 {
			msg.Extra.TokenCount = r.TokenCount
		}
		out = append(out, msg)
	}
	return out, nil
}

// NewChatRecord converts a chat message for storage.
func NewChatRecord(msg ChatMessage) (persist.ChatMessage, error) {
	extra, err := json.Marshal(msg.Extra)
	if err != nil {
		return persist.ChatMessage{}, fmt.Errorf("encode message extra: %w", err)
	}
	return persist.ChatMessage{
		Name:       msg.Name,
		Mes:        msg.Mes,
		IsUser:     msg.IsUser,
		IsSystem:   msg.IsSystem,
		Extra:      extra,
		TokenCount: msg.Extra.TokenCount,
	}, nil
}
