// Package radist implements the messaging-platform connector: WhatsApp chat
// discovery, windowed message fetch, and dialog transcript rendering.
package radist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/synkro/synkro/internal/normalize"
	"github.com/synkro/synkro/internal/request"
)

// DefaultBaseURL is the production messaging API endpoint.
const DefaultBaseURL = "https://api.radist.online/v2"

const pageSize = 100

// Config holds the messaging API credentials.
type Config struct {
	APIKey    string
	CompanyID int64
	BaseURL   string
}

// Client talks to the messaging API through the shared request client.
type Client struct {
	cfg Config
	rc  *request.Client
}

// NewClient validates credentials and returns a connector client. Missing
// credentials fail here, before any network call.
func NewClient(cfg Config, rc *request.Client) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || cfg.CompanyID == 0 {
		return nil, eris.New("radist: credentials are incomplete")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, rc: rc}, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{"X-Api-Key": c.cfg.APIKey}
}

func (c *Client) companyURL(path string) string {
	return fmt.Sprintf("%s/companies/%d/messaging%s", c.cfg.BaseURL, c.cfg.CompanyID, path)
}

type source struct {
	Type         string `json:"type"`
	ConnectionID int64  `json:"connection_id"`
}

// Contact is one entry from the contacts-with-chats listing.
type Contact struct {
	ContactID         int64  `json:"contact_id"`
	ContactName       string `json:"contact_name"`
	LastChatUpdatedAt string `json:"last_chat_updated_at"`
	Chats             []Chat `json:"chats"`
}

// Chat is one channel binding under a contact.
type Chat struct {
	ChatID       int64  `json:"chat_id"`
	ConnectionID int64  `json:"connection_id"`
	Phone        string `json:"phone"`
	SourceChatID string `json:"source_chat_id"`
}

type contactsPage struct {
	Data             []Contact `json:"data"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

type attachment struct {
	Name    string `json:"name"`
	Caption string `json:"caption"`
}

// Message is a single chat message. The raw JSON is retained so the unified
// row can carry the untouched per-message array.
type Message struct {
	ID        int64  `json:"message_id"`
	CreatedAt string `json:"created_at"`
	Direction string `json:"direction"`
	Text      *struct {
		Text string `json:"text"`
	} `json:"text"`
	Interactive *struct {
		Body struct {
			Text string `json:"text"`
		} `json:"body"`
	} `json:"waba_interactive"`
	File  *attachment `json:"file"`
	Image *attachment `json:"image"`
	Audio *attachment `json:"audio"`
	Video *attachment `json:"video"`
	Voice *attachment `json:"voice"`

	raw json.RawMessage
}

// UnmarshalJSON decodes the typed fields and keeps a copy of the raw bytes.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Message(p)
	m.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Raw returns the message as received from the API.
func (m Message) Raw() json.RawMessage {
	if m.raw != nil {
		return m.raw
	}
	data, _ := json.Marshal(m)
	return data
}

// Time parses the message timestamp; zero when unparsable.
func (m Message) Time() time.Time {
	return normalize.ParseTime(m.CreatedAt)
}

// Dialog is one phone-bearing chat with its in-window messages in ascending
// time order.
type Dialog struct {
	ContactID      int64
	ContactName    string
	Phone          string
	ConnectionID   int64
	ChatID         int64
	SourceChatID   string
	Messages       []Message
	FirstMessageAt time.Time
	LastMessageAt  time.Time
}

// RawMessages returns the raw per-message payloads in dialog order.
func (d Dialog) RawMessages() []json.RawMessage {
	out := make([]json.RawMessage, 0, len(d.Messages))
	for _, m := range d.Messages {
		out = append(out, m.Raw())
	}
	return out
}

// FetchParams bounds a dialog collection run.
type FetchParams struct {
	WindowStart time.Time
	WindowEnd   time.Time
	FetchLimit  int

	// TargetPhones, when non-empty, restricts candidates to these normalized
	// phones (combined mode only) and tightens the candidate cap.
	TargetPhones map[string]bool

	MaxContactPages int
	MaxCandidates   int
	MaxMessagePages int
}

// whatsappConnections fetches configured chat sources and keeps only the
// WhatsApp-family connection ids.
func (c *Client) whatsappConnections(ctx context.Context) (map[int64]bool, error) {
	var sources []source
	if err := c.rc.DoJSON(ctx, "GET", c.companyURL("/chats/sources/"), c.headers(), nil, &sources); err != nil {
		return nil, eris.Wrap(err, "radist: fetch chat sources")
	}
	connections := make(map[int64]bool)
	for _, s := range sources {
		kind := strings.ToLower(strings.TrimSpace(s.Type))
		if (kind == "whatsapp" || kind == "waba") && s.ConnectionID != 0 {
			connections[s.ConnectionID] = true
		}
	}
	return connections, nil
}

// listContacts cursor-paginates the contacts-with-chats listing up to the
// page cap, accumulating all contacts.
func (c *Client) listContacts(ctx context.Context, maxPages int) ([]Contact, error) {
	var contacts []Contact
	cursor := ""
	for page := 0; page < maxPages; page++ {
		params := url.Values{"limit": {fmt.Sprint(pageSize)}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var payload contactsPage
		endpoint := c.companyURL("/chats/with_contacts/") + "?" + params.Encode()
		if err := c.rc.DoJSON(ctx, "GET", endpoint, c.headers(), nil, &payload); err != nil {
			return nil, eris.Wrap(err, "radist: fetch contacts page")
		}
		contacts = append(contacts, payload.Data...)
		cursor = strings.TrimSpace(payload.ResponseMetadata.NextCursor)
		if cursor == "" {
			break
		}
	}
	return contacts, nil
}

type candidate struct {
	contact   Contact
	chat      Chat
	phone     string
	updatedAt time.Time
}

// CollectDialogs discovers phone-bearing WhatsApp chats and fetches their
// in-window messages. Dialogs with zero in-window messages are dropped.
func (c *Client) CollectDialogs(ctx context.Context, p FetchParams) ([]Dialog, error) {
	connections, err := c.whatsappConnections(ctx)
	if err != nil {
		return nil, err
	}
	if len(connections) == 0 {
		return nil, nil
	}

	contacts, err := c.listContacts(ctx, p.MaxContactPages)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, contact := range contacts {
		updatedAt := normalize.ParseTime(contact.LastChatUpdatedAt)
		for _, chat := range contact.Chats {
			if !connections[chat.ConnectionID] {
				continue
			}
			phone := chat.Phone
			if phone == "" {
				phone = chat.SourceChatID
			}
			phone = normalize.Phone(phone)
			if phone == "" {
				continue
			}
			if len(p.TargetPhones) > 0 && !p.TargetPhones[phone] {
				continue
			}
			candidates = append(candidates, candidate{
				contact:   contact,
				chat:      chat,
				phone:     phone,
				updatedAt: updatedAt,
			})
		}
	}

	// Latest chat activity first; zero timestamps sort last.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].updatedAt.After(candidates[j].updatedAt)
	})

	limit := p.MaxCandidates
	if len(p.TargetPhones) > 0 {
		tighter := p.FetchLimit
		if twice := 2 * len(p.TargetPhones); twice > tighter {
			tighter = twice
		}
		if tighter < limit {
			limit = tighter
		}
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	var dialogs []Dialog
	for _, cand := range candidates {
		if cand.chat.ChatID <= 0 {
			continue
		}
		messages, err := c.fetchMessagesInWindow(ctx, cand.chat.ChatID, p)
		if err != nil {
			return nil, err
		}
		if len(messages) == 0 {
			continue
		}
		name := cand.contact.ContactName
		if strings.TrimSpace(name) == "" {
			name = cand.phone
		}
		dialogs = append(dialogs, Dialog{
			ContactID:      cand.contact.ContactID,
			ContactName:    name,
			Phone:          cand.phone,
			ConnectionID:   cand.chat.ConnectionID,
			ChatID:         cand.chat.ChatID,
			SourceChatID:   cand.chat.SourceChatID,
			Messages:       messages,
			FirstMessageAt: messages[0].Time(),
			LastMessageAt:  messages[len(messages)-1].Time(),
		})
	}
	return dialogs, nil
}

// fetchMessagesInWindow pages backward through a chat's history using an
// `until` cursor derived from the oldest message seen minus one millisecond.
// It stops on a short page, when the oldest message predates the window
// start, or when the page cap is hit. Only messages inside
// [WindowStart, WindowEnd) are retained, de-duplicated by id across pages.
func (c *Client) fetchMessagesInWindow(ctx context.Context, chatID int64, p FetchParams) ([]Message, error) {
	var inWindow []Message
	seen := make(map[int64]bool)
	until := ""

	for page := 0; page < p.MaxMessagePages; page++ {
		params := url.Values{
			"chat_id": {fmt.Sprint(chatID)},
			"limit":   {fmt.Sprint(pageSize)},
		}
		if until != "" {
			params.Set("until", until)
		}
		var batch []Message
		endpoint := c.companyURL("/messages/") + "?" + params.Encode()
		if err := c.rc.DoJSON(ctx, "GET", endpoint, c.headers(), nil, &batch); err != nil {
			return nil, eris.Wrapf(err, "radist: fetch messages for chat %d", chatID)
		}
		if len(batch) == 0 {
			break
		}

		var oldest time.Time
		for _, msg := range batch {
			if msg.ID != 0 {
				if seen[msg.ID] {
					continue
				}
				seen[msg.ID] = true
			}
			createdAt := msg.Time()
			if createdAt.IsZero() {
				continue
			}
			if !createdAt.Before(p.WindowStart) && createdAt.Before(p.WindowEnd) {
				inWindow = append(inWindow, msg)
			}
			if oldest.IsZero() || createdAt.Before(oldest) {
				oldest = createdAt
			}
		}

		if len(batch) < pageSize {
			break
		}
		if oldest.IsZero() || oldest.Before(p.WindowStart) {
			break
		}
		until = normalize.FormatTime(oldest.Add(-time.Millisecond))
	}

	sort.SliceStable(inWindow, func(i, j int) bool {
		return inWindow[i].Time().Before(inWindow[j].Time())
	})
	return inWindow, nil
}
