package request

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synkro/synkro/internal/resilience"
)

func testClient(attempts int) *Client {
	return New(WithRetry(resilience.RetryConfig{
		MaxAttempts: attempts,
		BackoffStep: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}))
}

func TestDoJSON_RetriesOn503ThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := testClient(5).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 3, calls)
}

func TestDoJSON_DoesNotRetryOn404(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	defer srv.Close()

	err := testClient(5).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "HTTP 404")
}

func TestDoJSON_ExhaustsRetriesOnPersistent500(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := testClient(3).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoJSON_MalformedResponseFailsImmediately(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var out map[string]any
	err := testClient(5).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, &out)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "parse response")
}

func TestDoJSON_SendsHeadersAndBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	var gotAuth, gotContentType, gotAgent string
	var gotBody payload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotAgent = r.Header.Get("User-Agent")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(WithUserAgent("synkro-test/1"))
	err := client.DoJSON(context.Background(), http.MethodPost, srv.URL,
		map[string]string{"Authorization": "Bearer tok"}, payload{Name: "acme"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "synkro-test/1", gotAgent)
	assert.Equal(t, "acme", gotBody.Name)
}

func TestDoJSON_NilOutDiscardsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ignored": 1}`))
	}))
	defer srv.Close()

	err := testClient(1).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	assert.NoError(t, err)
}

func TestSnippet_CapsBodyLength(t *testing.T) {
	long := make([]byte, bodySnippetLimit+100)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, snippet(long), bodySnippetLimit)
	assert.Equal(t, "short", snippet([]byte("short")))
}
