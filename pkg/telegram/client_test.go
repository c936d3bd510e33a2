package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synkro/synkro/internal/request"
)

func TestNewClient_RequiresTokenAndChat(t *testing.T) {
	rc := request.New()

	_, err := NewClient(Config{BotToken: "", ChatID: 1}, rc)
	assert.Error(t, err)

	_, err = NewClient(Config{BotToken: "tok", ChatID: 0}, rc)
	assert.Error(t, err)

	client, err := NewClient(Config{BotToken: "tok", ChatID: 99}, rc)
	require.NoError(t, err)
	assert.Equal(t, int64(99), client.ChatID())
	assert.Equal(t, "https://api.telegram.org/bottok/getUpdates", client.methodURL("getUpdates"))
}

func TestGetUpdates(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/getUpdates", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":1,"chat":{"id":99},"date":1714555800,"text":"@bot hello","from":{"id":5,"username":"ivan"}}},
			{"update_id":11}
		]}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BotToken: "tok", ChatID: 99, BaseURL: srv.URL}, request.New())
	require.NoError(t, err)

	offset := int64(10)
	updates, err := client.GetUpdates(context.Background(), &offset)
	require.NoError(t, err)
	assert.Equal(t, float64(10), gotBody["offset"])
	assert.Equal(t, float64(updateBatch), gotBody["limit"])

	require.Len(t, updates, 2)
	assert.Equal(t, int64(10), updates[0].UpdateID)
	require.NotNil(t, updates[0].Message)
	assert.Equal(t, "ivan", updates[0].Message.From.Username)
	assert.Nil(t, updates[1].Message, "service updates carry no message")
}

func TestGetUpdates_NilOffsetOmitsField(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"ok":true,"result":[]}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BotToken: "tok", ChatID: 99, BaseURL: srv.URL}, request.New())
	require.NoError(t, err)

	_, err = client.GetUpdates(context.Background(), nil)
	require.NoError(t, err)
	_, present := gotBody["offset"]
	assert.False(t, present)
}

func TestSendMessage_TruncatesLongText(t *testing.T) {
	var gotText string
	var gotChat float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotText, _ = body["text"].(string)
		gotChat, _ = body["chat_id"].(float64)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BotToken: "tok", ChatID: 99, BaseURL: srv.URL}, request.New())
	require.NoError(t, err)

	// Multi-byte runes make sure truncation counts runes, not bytes.
	long := strings.Repeat("ы", maxMessageLen+500)
	require.NoError(t, client.SendMessage(context.Background(), long))
	assert.Equal(t, float64(99), gotChat)
	assert.Equal(t, maxMessageLen+3, utf8.RuneCountInString(gotText))
	assert.True(t, strings.HasSuffix(gotText, "..."))

	require.NoError(t, client.SendMessage(context.Background(), "short"))
	assert.Equal(t, "short", gotText)
}

func TestSendMessage_RejectedByAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BotToken: "tok", ChatID: 99, BaseURL: srv.URL}, request.New())
	require.NoError(t, err)
	assert.Error(t, client.SendMessage(context.Background(), "hi"))
}
