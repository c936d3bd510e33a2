// Package telegram implements the bot API surface the service needs: long
// polling for updates and sending messages to a chat.
package telegram

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/synkro/synkro/internal/request"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	updateBatch    = 50

	// maxMessageLen stays under the bot API's 4096-character hard limit so
	// truncated replies still send.
	maxMessageLen = 3900
)

// Config holds the bot credentials and the chat the bot reports into.
type Config struct {
	BotToken string
	ChatID   int64
	BaseURL  string
}

// Client talks to the bot API through the shared request client.
type Client struct {
	baseURL string
	token   string
	chatID  int64
	rc      *request.Client
}

// NewClient validates credentials and returns a bot client.
func NewClient(cfg Config, rc *request.Client) (*Client, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" || cfg.ChatID == 0 {
		return nil, eris.New("telegram: bot token or chat id is not configured")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{baseURL: base, token: token, chatID: cfg.ChatID, rc: rc}, nil
}

// ChatID returns the configured report chat.
func (c *Client) ChatID() int64 { return c.chatID }

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

// Entity is a typed span inside a message, e.g. a "mention".
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64 `json:"message_id"`
	From      struct {
		ID       int64  `json:"id"`
		IsBot    bool   `json:"is_bot"`
		Username string `json:"username"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Date     int64    `json:"date"`
	Text     string   `json:"text"`
	Entities []Entity `json:"entities"`
}

// Update is one item from getUpdates. Edited messages arrive under their own
// key with the same shape.
type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message"`
	EditedMessage *Message `json:"edited_message"`
}

type updatesPayload struct {
	OK     bool     `json:"ok"`
	Result []Update `json:"result"`
}

type sendPayload struct {
	OK bool `json:"ok"`
}

// GetUpdates fetches pending updates starting at offset. A nil offset asks
// for whatever the API still holds, which callers use on their first poll.
func (c *Client) GetUpdates(ctx context.Context, offset *int64) ([]Update, error) {
	body := map[string]any{"limit": updateBatch, "timeout": 0}
	if offset != nil {
		body["offset"] = *offset
	}
	var payload updatesPayload
	if err := c.rc.DoJSON(ctx, "POST", c.methodURL("getUpdates"), nil, body, &payload); err != nil {
		return nil, eris.Wrap(err, "telegram: get updates")
	}
	if !payload.OK {
		return nil, eris.New("telegram: get updates rejected")
	}
	return payload.Result, nil
}

// SendMessage posts text to the configured chat, truncating oversized
// payloads instead of failing them.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	return c.SendMessageTo(ctx, c.chatID, text)
}

// SendMessageTo posts text to an explicit chat.
func (c *Client) SendMessageTo(ctx context.Context, chatID int64, text string) error {
	if runes := []rune(text); len(runes) > maxMessageLen {
		text = string(runes[:maxMessageLen]) + "..."
	}
	body := map[string]any{"chat_id": chatID, "text": text}
	var payload sendPayload
	if err := c.rc.DoJSON(ctx, "POST", c.methodURL("sendMessage"), nil, body, &payload); err != nil {
		return eris.Wrap(err, "telegram: send message")
	}
	if !payload.OK {
		return eris.New("telegram: send message rejected")
	}
	return nil
}
