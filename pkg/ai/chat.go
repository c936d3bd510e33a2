package ai

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/synkro/synkro/internal/request"
)

const (
	defaultChatBaseURL = "https://api.openai.com/v1"
	defaultChatModel   = "gpt-4o-mini"
	chatTemperature    = 0.2
)

// chatProvider speaks the chat-completion shape: a messages array in, the
// first choice's message content out.
type chatProvider struct {
	baseURL string
	apiKey  string
	model   string
	rc      *request.Client
}

func newChatProvider(cfg Config, rc *request.Client) *chatProvider {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultChatBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultChatModel
	}
	return &chatProvider{baseURL: base, apiKey: cfg.APIKey, model: model, rc: rc}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *chatProvider) Generate(ctx context.Context, systemPrompt, contextText string) (string, error) {
	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: contextText},
		},
		Temperature: chatTemperature,
	}
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}

	var payload chatResponse
	if err := p.rc.DoJSON(ctx, "POST", p.baseURL+"/chat/completions", headers, body, &payload); err != nil {
		return "", &Error{Provider: "openai", Err: err}
	}
	if len(payload.Choices) == 0 {
		return "", &Error{Provider: "openai", Err: eris.New("empty choices")}
	}
	text := strings.TrimSpace(payload.Choices[0].Message.Content)
	if text == "" {
		return "", &Error{Provider: "openai", Err: eris.New("empty completion")}
	}
	return text, nil
}
