package generate

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/promptbuild"
	"github.com/liushuangls/go-anthropic/v2"
)

// AnthropicSender talks to the Anthropic messages API. System messages are
// lifted into the system field; text prompts are sent as one user turn.
type AnthropicSender struct {
	client *anthropic.Client
	name   string
}

func NewAnthropicSender(p config.ProviderConfig) (*AnthropicSender, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("provider %s: API key is required", p.Name)
	}
	var opts []anthropic.ClientOption
	if p.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
	}
	return &AnthropicSender{client: anthropic.NewClient(p.APIKey, opts...), name: p.Name}, nil
}

// anthropicMessages splits system content out and merges consecutive turns
// with the same role, which the API rejects.
func anthropicMessages(p Prompt) (string, []anthropic.Message) {
	if len(p.Messages) == 0 {
		return "", []anthropic.Message{anthropic.NewUserTextMessage(p.Text)}
	}
	var system []string
	type turn struct {
		role anthropic.ChatRole
		text []string
	}
	var turns []turn
	for _, m := range p.Messages {
		role := anthropic.RoleUser
		switch m.Role {
		case promptbuild.RoleSystem:
			if len(turns) == 0 {
				system = append(system, m.Content)
				continue
			}
		case promptbuild.RoleAssistant:
			role = anthropic.RoleAssistant
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text = append(turns[n-1].text, m.Content)
			continue
		}
		turns = append(turns, turn{role: role, text: []string{m.Content}})
	}

	out := make([]anthropic.Message, 0, len(turns))
	for _, t := range turns {
		text := strings.Join(t.text, "\n\n")
		if t.role == anthropic.RoleAssistant {
			out = append(out, anthropic.NewAssistantTextMessage(text))
		} else {
			out = append(out, anthropic.NewUserTextMessage(text))
		}
	}
	if len(out) == 0 {
		out = append(out, anthropic.NewUserTextMessage(""))
	}
	return strings.Join(system, "\n\n"), out
}

func (s *AnthropicSender) request(req SendRequest) anthropic.MessagesRequest {
	system, msgs := anthropicMessages(req.Prompt)
	return anthropic.MessagesRequest{
		Model:         anthropic.Model(req.Model),
		System:        system,
		Messages:      msgs,
		MaxTokens:     maxTokens(req.MaxTokens),
		StopSequences: req.StopStrings,
	}
}

func (s *AnthropicSender) Send(ctx context.Context, req SendRequest) (Chunk, error) {
	resp, err := s.client.CreateMessages(ctx, s.request(req))
	if err != nil {
		return Chunk{}, fmt.Errorf("%s API error: %w", s.name, err)
	}
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Text != nil {
			b.WriteString(*c.Text)
		}
	}
	return Chunk{Content: b.String()}, nil
}

// Stream runs the callback-based client in a goroutine and hands deltas over
// a channel.
func (s *AnthropicSender) Stream(ctx context.Context, req SendRequest) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	st := &anthropicStream{deltas: make(chan string), done: make(chan struct{}), cancel: cancel}

	go func() {
		defer close(st.done)
		_, err := s.client.CreateMessagesStream(ctx, anthropic.MessagesStreamRequest{
			MessagesRequest: s.request(req),
			OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
				if data.Delta.Text == nil {
					return
				}
				select {
				case st.deltas <- *data.Delta.Text:
				case <-ctx.Done():
				}
			},
		})
		if err != nil {
			st.err = fmt.Errorf("%s API error: %w", s.name, err)
		}
	}()
	return st, nil
}

type anthropicStream struct {
	deltas  chan string
	done    chan struct{}
	cancel  context.CancelFunc
	err     error
	content strings.Builder
}

func (s *anthropicStream) Recv() (Chunk, error) {
	select {
	case d := <-s.deltas:
		s.content.WriteString(d)
		return Chunk{Content: s.content.String(), Delta: d}, nil
	case <-s.done:
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{}, io.EOF
	}
}

func (s *anthropicStream) Close() error {
	s.cancel()
	return nil
}
