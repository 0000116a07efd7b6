package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/promptbuild"
	"github.com/sashabaranov/go-openai"
)

const defaultMaxTokens = 4096

// OpenAISender talks to any OpenAI-compatible API. Message prompts use chat
// completions; text prompts use the legacy completions endpoint.
type OpenAISender struct {
	client *openai.Client
	name   string
}

func NewOpenAISender(p config.ProviderConfig) (*OpenAISender, error) {
	if p.APIKey == "" && p.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: API key or base URL is required", p.Name)
	}
	cfg := openai.DefaultConfig(p.APIKey)
	if p.BaseURL != "" {
		cfg.BaseURL = p.BaseURL
	}
	return &OpenAISender{client: openai.NewClientWithConfig(cfg), name: p.Name}, nil
}

func maxTokens(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

func openAIMessages(msgs []promptbuild.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case promptbuild.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case promptbuild.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func (s *OpenAISender) chatRequest(req SendRequest, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  openAIMessages(req.Prompt.Messages),
		MaxTokens: maxTokens(req.MaxTokens),
		Stop:      req.StopStrings,
		Stream:    stream,
	}
}

func (s *OpenAISender) completionRequest(req SendRequest, stream bool) openai.CompletionRequest {
	return openai.CompletionRequest{
		Model:     req.Model,
		Prompt:    req.Prompt.AsText(),
		MaxTokens: maxTokens(req.MaxTokens),
		Stop:      req.StopStrings,
		Stream:    stream,
	}
}

func (s *OpenAISender) Send(ctx context.Context, req SendRequest) (Chunk, error) {
	if len(req.Prompt.Messages) == 0 {
		resp, err := s.client.CreateCompletion(ctx, s.completionRequest(req, false))
		if err != nil {
			return Chunk{}, fmt.Errorf("%s API error: %w", s.name, err)
		}
		if len(resp.Choices) == 0 {
			return Chunk{}, nil
		}
		return Chunk{Content: resp.Choices[0].Text}, nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, s.chatRequest(req, false))
	if err != nil {
		return Chunk{}, fmt.Errorf("%s API error: %w", s.name, err)
	}
	if len(resp.Choices) == 0 {
		return Chunk{}, nil
	}
	msg := resp.Choices[0].Message
	return Chunk{Content: msg.Content, Reasoning: msg.ReasoningContent}, nil
}

func (s *OpenAISender) Stream(ctx context.Context, req SendRequest) (Stream, error) {
	if len(req.Prompt.Messages) == 0 {
		st, err := s.client.CreateCompletionStream(ctx, s.completionRequest(req, true))
		if err != nil {
			return nil, fmt.Errorf("%s API error: %w", s.name, err)
		}
		return &openAICompletionStream{stream: st}, nil
	}
	st, err := s.client.CreateChatCompletionStream(ctx, s.chatRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", s.name, err)
	}
	return &openAIChatStream{stream: st}, nil
}

type openAIChatStream struct {
	stream    *openai.ChatCompletionStream
	content   strings.Builder
	reasoning strings.Builder
}

func (s *openAIChatStream) Recv() (Chunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return Chunk{}, err
	}
	var delta string
	if len(resp.Choices) > 0 {
		d := resp.Choices[0].Delta
		delta = d.Content
		s.content.WriteString(d.Content)
		s.reasoning.WriteString(d.ReasoningContent)
	}
	return Chunk{Content: s.content.String(), Delta: delta, Reasoning: s.reasoning.String()}, nil
}

func (s *openAIChatStream) Close() error { return s.stream.Close() }

type openAICompletionStream struct {
	stream  *openai.CompletionStream
	content strings.Builder
}

func (s *openAICompletionStream) Recv() (Chunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return Chunk{}, err
	}
	var delta string
	if len(resp.Choices) > 0 {
		delta = resp.Choices[0].Text
		s.content.WriteString(delta)
	}
	return Chunk{Content: s.content.String(), Delta: delta}, nil
}

func (s *openAICompletionStream) Close() error { return s.stream.Close() }
