package radist

import (
	"sort"
	"strings"
)

// Transcript renders the dialog's messages as a normalized human-readable
// log, one line per message:
//
//	2024-05-01 09:30:00  client: hello [files: invoice.pdf]
//
// Inbound messages are attributed to "client", everything else to "agent".
// Message text falls back from plain text to the interactive body to the
// first attachment caption.
func (d Dialog) Transcript() string {
	messages := make([]Message, len(d.Messages))
	copy(messages, d.Messages)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Time().Before(messages[j].Time())
	})

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		ts := "unknown-time"
		if t := msg.Time(); !t.IsZero() {
			ts = t.UTC().Format("2006-01-02 15:04:05")
		}
		actor := "agent"
		if strings.ToLower(msg.Direction) == "inbound" {
			actor = "client"
		}
		line := ts + "  " + actor + ":"
		if text := msg.displayText(); text != "" {
			line += " " + text
		}
		if files := msg.attachmentNames(); len(files) > 0 {
			line += " [files: " + strings.Join(files, ", ") + "]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Message) attachments() []*attachment {
	return []*attachment{m.File, m.Image, m.Audio, m.Video, m.Voice}
}

// displayText picks the message text: plain text, then interactive body,
// then the first present attachment caption.
func (m Message) displayText() string {
	if m.Text != nil {
		if text := strings.TrimSpace(m.Text.Text); text != "" {
			return text
		}
	}
	if m.Interactive != nil {
		if text := strings.TrimSpace(m.Interactive.Body.Text); text != "" {
			return text
		}
	}
	for _, a := range m.attachments() {
		if a == nil {
			continue
		}
		if caption := strings.TrimSpace(a.Caption); caption != "" {
			return caption
		}
	}
	return ""
}

// attachmentNames lists attachment file names, de-duplicated and sorted.
func (m Message) attachmentNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, a := range m.attachments() {
		if a == nil {
			continue
		}
		name := strings.TrimSpace(a.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
