package amocrm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/normalize"
)

// CollectRows runs the full CRM side of a sync: status lookup, windowed lead
// paging, capped contact phone resolution, and unified row assembly. Deals
// with a non-positive id are dropped.
func (c *Client) CollectRows(ctx context.Context, tenantSlug string, windowStart, windowEnd time.Time, maxLeads, maxContacts int) ([]model.DealRow, error) {
	statusMap, err := c.StatusMap(ctx)
	if err != nil {
		return nil, err
	}
	leads, err := c.FetchLeads(ctx, windowStart, windowEnd, maxLeads)
	if err != nil {
		return nil, err
	}

	contactIDs := collectContactIDs(leads)
	contactPhones, err := c.FetchContactPhones(ctx, contactIDs, maxContacts)
	if err != nil {
		return nil, err
	}

	rows := make([]model.DealRow, 0, len(leads))
	for _, lead := range leads {
		if lead.ID <= 0 {
			continue
		}

		var leadContactIDs []int64
		for _, contact := range lead.Embedded.Contacts {
			if contact.ID > 0 {
				leadContactIDs = append(leadContactIDs, contact.ID)
			}
		}

		var phones []string
		for _, cid := range leadContactIDs {
			phones = append(phones, contactPhones[cid]...)
		}
		phones = append(phones, extractPhones(lead.CustomFields)...)
		phones = normalizePhones(phones)

		name := strings.TrimSpace(lead.Name)
		if name == "" {
			name = fmt.Sprintf("Deal %d", lead.ID)
		}
		responsible := ""
		if lead.ResponsibleUserID != 0 {
			responsible = fmt.Sprint(lead.ResponsibleUserID)
		}
		phone := ""
		if len(phones) > 0 {
			phone = phones[0]
		}
		statusID := lead.StatusID

		rows = append(rows, model.DealRow{
			TenantID:    tenantSlug,
			DealID:      lead.ID,
			DealName:    name,
			StatusID:    &statusID,
			Status:      statusMap[lead.StatusID],
			Responsible: responsible,
			Phone:       phone,
			DealAttrs: map[string]any{
				"source":         "amocrm",
				"updated_at":     lead.UpdatedAt,
				"pipeline_id":    lead.PipelineID,
				"loss_reason_id": lead.LossReasonID,
			},
			ContactAttrs: map[string]any{
				"contact_ids": leadContactIDs,
				"phones":      phones,
			},
			Phones: phones,
		})
	}
	return rows, nil
}

// collectContactIDs gathers the unique set of contact ids referenced by the
// leads, in ascending order.
func collectContactIDs(leads []Lead) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, lead := range leads {
		for _, contact := range lead.Embedded.Contacts {
			if contact.ID > 0 && !seen[contact.ID] {
				seen[contact.ID] = true
				ids = append(ids, contact.ID)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// extractPhones pulls raw phone values from custom fields that look
// phone-like by code or name.
func extractPhones(fields []CustomField) []string {
	var phones []string
	for _, field := range fields {
		code := strings.ToUpper(strings.TrimSpace(field.FieldCode))
		name := strings.ToLower(field.FieldName)
		if code != "PHONE" && !strings.Contains(name, "tel") && !strings.Contains(name, "phone") {
			continue
		}
		for _, item := range field.Values {
			raw := strings.TrimSpace(fmt.Sprint(item.Value))
			if raw != "" && raw != "<nil>" {
				phones = append(phones, raw)
			}
		}
	}
	return phones
}

// normalizePhones canonicalizes and de-duplicates, preserving first-seen
// order and discarding values that normalize to empty.
func normalizePhones(raw []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, value := range raw {
		phone := normalize.Phone(value)
		if phone == "" || seen[phone] {
			continue
		}
		seen[phone] = true
		out = append(out, phone)
	}
	return out
}
