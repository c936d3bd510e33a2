// Package merge joins CRM rows and messaging dialogs into unified deal rows
// by normalized phone, or runs each source standalone.
package merge

import (
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/normalize"
	"github.com/synkro/synkro/pkg/radist"
)

const maxDealNameLen = 500

// Rows merges the two sources according to the sync mode. Every returned row
// has passed finalization and is ready for the analytic-store upsert.
func Rows(tenantSlug string, mode model.SyncMode, crmRows []model.DealRow, dialogs []radist.Dialog) []model.DealRow {
	switch mode {
	case model.ModeCRMOnly:
		out := make([]model.DealRow, 0, len(crmRows))
		for _, row := range crmRows {
			out = append(out, finalize(tenantSlug, row))
		}
		return out

	case model.ModeMessagingOnly:
		out := make([]model.DealRow, 0, len(dialogs))
		for _, dialog := range dialogs {
			out = append(out, finalize(tenantSlug, syntheticRow(mode, dialog)))
		}
		return out

	default: // crm_and_messaging
		byPhone := bestDialogByPhone(dialogs)
		out := make([]model.DealRow, 0, len(crmRows))
		for _, row := range crmRows {
			merged := row
			for _, phone := range row.Phones {
				dialog, ok := byPhone[phone]
				if !ok {
					continue
				}
				overlayDialog(&merged, dialog)
				break
			}
			out = append(out, finalize(tenantSlug, merged))
		}
		return out
	}
}

// bestDialogByPhone maps each phone to its dialog; when several dialogs share
// a phone the one with the latest message wins.
func bestDialogByPhone(dialogs []radist.Dialog) map[string]radist.Dialog {
	byPhone := make(map[string]radist.Dialog, len(dialogs))
	for _, dialog := range dialogs {
		if dialog.Phone == "" {
			continue
		}
		prev, ok := byPhone[dialog.Phone]
		if !ok || dialog.LastMessageAt.After(prev.LastMessageAt) {
			byPhone[dialog.Phone] = dialog
		}
	}
	return byPhone
}

func overlayDialog(row *model.DealRow, dialog radist.Dialog) {
	if dialog.Phone != "" {
		row.Phone = dialog.Phone
	}
	chatID := dialog.ChatID
	row.ChatID = &chatID
	if !dialog.FirstMessageAt.IsZero() {
		first := dialog.FirstMessageAt
		row.FirstMessageAt = &first
	}
	if !dialog.LastMessageAt.IsZero() {
		last := dialog.LastMessageAt
		row.LastMessageAt = &last
	}
	row.MessagesCount = len(dialog.Messages)
	row.DialogRaw = dialog.RawMessages()
	row.DialogNorm = dialog.Transcript()
}

// syntheticRow builds a messaging-only row with a deterministic negative id
// so the same dialog always upserts onto the same analytic-store row.
func syntheticRow(mode model.SyncMode, dialog radist.Dialog) model.DealRow {
	seed := "radist:"
	switch {
	case dialog.ChatID != 0:
		seed += strconv.FormatInt(dialog.ChatID, 10)
	case dialog.SourceChatID != "":
		seed += dialog.SourceChatID
	default:
		seed += dialog.Phone
	}

	name := dialog.ContactName
	if name == "" {
		name = dialog.Phone
	}
	if name == "" {
		name = fmt.Sprintf("Chat %d", dialog.ChatID)
	}

	row := model.DealRow{
		DealID:      -abs(StableNumericID(seed)),
		DealName:    name,
		Status:      "radist_chat",
		Responsible: "",
		Phone:       dialog.Phone,
		DealAttrs: map[string]any{
			"source":        "radist",
			"connection_id": dialog.ConnectionID,
			"mode":          string(mode),
		},
		ContactAttrs: map[string]any{
			"contact_id":     dialog.ContactID,
			"contact_name":   dialog.ContactName,
			"source_chat_id": dialog.SourceChatID,
		},
	}
	overlayDialog(&row, dialog)
	return row
}

// finalize fills fallbacks and defaults so every row satisfies the analytic
// store contract.
func finalize(tenantSlug string, row model.DealRow) model.DealRow {
	row.TenantID = tenantSlug
	if row.DealID == 0 {
		row.DealID = StableNumericID("deal:" + row.DealName)
	}
	if row.DealName == "" {
		row.DealName = fmt.Sprintf("Deal %d", row.DealID)
	}
	if runes := []rune(row.DealName); len(runes) > maxDealNameLen {
		row.DealName = string(runes[:maxDealNameLen])
	}
	row.Phone = normalize.Phone(row.Phone)
	if row.MessagesCount < 0 {
		row.MessagesCount = 0
	}
	if row.DealAttrs == nil {
		row.DealAttrs = map[string]any{}
	}
	if row.ContactAttrs == nil {
		row.ContactAttrs = map[string]any{}
	}
	return row
}

// StableNumericID derives a stable positive id from a seed string: the first
// 15 hex characters of the seed's SHA-256 digest parsed as an integer. The
// same seed always maps to the same id and distinct seeds practically never
// collide.
func StableNumericID(seed string) int64 {
	digest := sha256.Sum256([]byte(seed))
	hexDigest := fmt.Sprintf("%x", digest)
	id, err := strconv.ParseInt(hexDigest[:15], 16, 64)
	if err != nil {
		return 0
	}
	return id
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
