package ai

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/synkro/synkro/internal/request"
)

const (
	defaultPromptBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultPromptModel   = "gemini-1.5-flash"
)

// promptProvider speaks the prompt-style shape: contents/parts in, the
// concatenated candidate part texts out. The system prompt is prepended to
// the user context because the API has no separate system role.
type promptProvider struct {
	baseURL string
	apiKey  string
	model   string
	rc      *request.Client
}

func newPromptProvider(cfg Config, rc *request.Client) *promptProvider {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultPromptBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultPromptModel
	}
	model = strings.TrimPrefix(model, "models/")
	return &promptProvider{baseURL: base, apiKey: cfg.APIKey, model: model, rc: rc}
}

type promptPart struct {
	Text string `json:"text"`
}

type promptContent struct {
	Parts []promptPart `json:"parts"`
}

type promptRequest struct {
	Contents []promptContent `json:"contents"`
}

type promptResponse struct {
	Candidates []struct {
		Content struct {
			Parts []promptPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (p *promptProvider) Generate(ctx context.Context, systemPrompt, contextText string) (string, error) {
	body := promptRequest{
		Contents: []promptContent{
			{Parts: []promptPart{{Text: systemPrompt + "\n\n" + contextText}}},
		},
	}
	endpoint := p.baseURL + "/models/" + p.model + ":generateContent?key=" + p.apiKey

	var payload promptResponse
	if err := p.rc.DoJSON(ctx, "POST", endpoint, nil, body, &payload); err != nil {
		return "", &Error{Provider: "gemini", Err: err}
	}
	if len(payload.Candidates) == 0 {
		return "", &Error{Provider: "gemini", Err: eris.New("empty candidates")}
	}
	var parts []string
	for _, part := range payload.Candidates[0].Content.Parts {
		if text := strings.TrimSpace(part.Text); text != "" {
			parts = append(parts, text)
		}
	}
	text := strings.Join(parts, "\n")
	if text == "" {
		return "", &Error{Provider: "gemini", Err: eris.New("empty completion")}
	}
	return text, nil
}
