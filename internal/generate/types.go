// Package generate sends assembled prompts to completion backends and tracks
// in-flight requests so they can be aborted.
package generate

import (
	"context"
	"errors"
	"strings"

	"github.com/kayz/tavernkit/internal/promptbuild"
)

var (
	ErrRequestNotFound = errors.New("request not found")
	ErrEmptyPrompt     = errors.New("empty prompt")
)

// Prompt is either a message list (chat completion) or plain text (text
// completion). Messages win when both are set.
type Prompt struct {
	Messages []promptbuild.Message
	Text     string
}

func (p Prompt) empty() bool { return len(p.Messages) == 0 && p.Text == "" }

// AsText flattens a message prompt for text-completion backends.
func (p Prompt) AsText() string {
	if len(p.Messages) == 0 {
		return p.Text
	}
	parts := make([]string, 0, len(p.Messages))
	for _, m := range p.Messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// PromptForAPI wraps a build result the way the given API expects it.
func PromptForAPI(api string, msgs []promptbuild.Message) Prompt {
	if api == promptbuild.APITextCompletion {
		return Prompt{Text: Prompt{Messages: msgs}.AsText()}
	}
	return Prompt{Messages: msgs}
}

// Request is one generation call.
type Request struct {
	ProfileID   string
	Prompt      Prompt
	MaxTokens   int
	Stream      bool
	StopStrings []string
}

// Chunk is a completed response or one streamed update. For streams Content
// holds the text so far and Delta the newest piece.
type Chunk struct {
	Content   string `json:"content"`
	Delta     string `json:"delta,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Options are the request callbacks. All are optional.
type Options struct {
	OnStart func(id string)
	OnEntry func(Chunk)
	// OnFinish gets the final chunk, or an error. Both are nil when the
	// request was aborted.
	OnFinish func(*Chunk, error)
}

// SendRequest is what a Sender receives.
type SendRequest struct {
	Model       string
	Prompt      Prompt
	MaxTokens   int
	StopStrings []string
}

// Stream yields chunks until io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Sender talks to one backend.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (Chunk, error)
	Stream(ctx context.Context, req SendRequest) (Stream, error)
}

// Resolver maps a connection profile to a sender and model.
type Resolver interface {
	Resolve(profileID string) (Sender, Profile, error)
}
