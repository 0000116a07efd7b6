package promptbuild

import (
	"context"
	"fmt"

	"github.com/kayz/tavernkit/internal/regexscript"
)

// sliceChat applies a message range. Negative indexes count from the end.
// {-1, -1} selects nothing.
func sliceChat(chat []ChatMessage, r *MessageRange) []ChatMessage {
	if r == nil {
		return chat
	}
	if r.Start == -1 && r.End != nil && *r.End == -1 {
		return nil
	}
	n := len(chat)
	start := relativeIndex(r.Start, n)
	end := n
	if r.End != nil {
		end = relativeIndex(*r.End+1, n)
	}
	if start >= end {
		return nil
	}
	return chat[start:end]
}

func relativeIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	return clampIndex(i, n)
}

// visibleChat drops system messages unless they carry tool invocations and
// the backend can call tools.
func visibleChat(chat []ChatMessage, canUseTools bool) []ChatMessage {
	out := make([]ChatMessage, 0, len(chat))
	for _, msg := range chat {
		if msg.IsSystem && !(canUseTools && msg.Extra.ToolInvocations != nil) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// prepareChat runs the prompt-time text hooks over each message and returns
// copies with the rewritten text.
func (b *Builder) prepareChat(ctx context.Context, chat []ChatMessage) ([]ChatMessage, error) {
	out := make([]ChatMessage, len(chat))
	for i, msg := range chat {
		placement := regexscript.PlacementAIOutput
		if msg.IsUser {
			placement = regexscript.PlacementUserInput
		}
		depth := len(chat) - i - 1
		text := b.host.RegexedString(msg.Mes, placement, regexscript.Options{IsPrompt: true, Depth: &depth})

		text, err := b.host.AppendFileContent(ctx, msg, text)
		if err != nil {
			return nil, fmt.Errorf("append file content to message %d: %w", i, err)
		}
		if msg.Extra.AppendTitle && msg.Extra.Title != "" {
			text = text + "\n\n" + msg.Extra.Title
		}
		msg.Mes = text
		out[i] = msg
	}
	return out, nil
}

// BudgetedChat keeps the newest messages whose token counts fit in
// maxContext. Messages with no known count are always kept.
func BudgetedChat(chat []ChatMessage, maxContext int, includeNames bool) []Message {
	total := 0
	start := len(chat)
	for i := len(chat) - 1; i >= 0; i-- {
		tc := chat[i].Extra.TokenCount
		if tc > 0 && total+tc > maxContext {
			break
		}
		total += tc
		start = i
	}

	return chatAsMessages(chat[start:], includeNames)
}

func chatAsMessages(chat []ChatMessage, includeNames bool) []Message {
	out := make([]Message, 0, len(chat))
	for _, msg := range chat {
		role := RoleAssistant
		if msg.IsUser {
			role = RoleUser
		}
		content := msg.Mes
		if includeNames {
			content = msg.Name + ": " + msg.Mes
		}
		out = append(out, Message{Role: role, Content: content})
	}
	return out
}

// worldInfoScanText is the chat as world info scans it, newest first.
func worldInfoScanText(chat []ChatMessage, includeNames bool) []string {
	out := make([]string, 0, len(chat))
	for i := len(chat) - 1; i >= 0; i-- {
		if includeNames {
			out = append(out, chat[i].Name+": "+chat[i].Mes)
		} else {
			out = append(out, chat[i].Mes)
		}
	}
	return out
}
