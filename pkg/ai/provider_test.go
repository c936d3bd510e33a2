package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synkro/synkro/internal/request"
)

func TestNewProvider_Dispatch(t *testing.T) {
	rc := request.New()

	p, err := NewProvider(Config{Provider: "", APIKey: "k"}, rc)
	require.NoError(t, err)
	assert.IsType(t, &chatProvider{}, p)

	p, err = NewProvider(Config{Provider: "OpenAI", APIKey: "k"}, rc)
	require.NoError(t, err)
	assert.IsType(t, &chatProvider{}, p)

	p, err = NewProvider(Config{Provider: "gemini", APIKey: "k"}, rc)
	require.NoError(t, err)
	assert.IsType(t, &promptProvider{}, p)

	_, err = NewProvider(Config{Provider: "oracle", APIKey: "k"}, rc)
	assert.Error(t, err)

	_, err = NewProvider(Config{Provider: "openai", APIKey: "  "}, rc)
	assert.Error(t, err)
}

func TestChatProvider_Generate(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"  the answer  "}}]}`)
	}))
	defer srv.Close()

	p, err := NewProvider(Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL, Model: "gpt-test"}, request.New())
	require.NoError(t, err)

	text, err := p.Generate(context.Background(), "system here", "context here")
	require.NoError(t, err)
	assert.Equal(t, "the answer", text)
	assert.Equal(t, "gpt-test", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "system here", gotReq.Messages[0].Content)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
}

func TestChatProvider_EmptyChoicesIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	p := newChatProvider(Config{APIKey: "k", BaseURL: srv.URL}, request.New())
	_, err := p.Generate(context.Background(), "s", "c")
	require.Error(t, err)

	var aiErr *Error
	require.True(t, errors.As(err, &aiErr))
	assert.Equal(t, "openai", aiErr.Provider)
}

func TestPromptProvider_Generate(t *testing.T) {
	var gotBody promptRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"part one"},{"text":""},{"text":"part two"}]}}]}`)
	}))
	defer srv.Close()

	p := newPromptProvider(Config{APIKey: "k", BaseURL: srv.URL, Model: "models/gemini-test"}, request.New())
	text, err := p.Generate(context.Background(), "sys", "ctx")
	require.NoError(t, err)
	assert.Equal(t, "part one\npart two", text)
	require.Len(t, gotBody.Contents, 1)
	require.Len(t, gotBody.Contents[0].Parts, 1)
	assert.Equal(t, "sys\n\nctx", gotBody.Contents[0].Parts[0].Text)
}

func TestPromptProvider_DefaultModelAndBase(t *testing.T) {
	p := newPromptProvider(Config{APIKey: "k"}, request.New())
	assert.Equal(t, defaultPromptModel, p.model)
	assert.Equal(t, defaultPromptBaseURL, p.baseURL)
}
