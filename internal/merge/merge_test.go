package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/pkg/radist"
)

func crmRow(dealID int64, phones ...string) model.DealRow {
	return model.DealRow{
		DealID:   dealID,
		DealName: "Test deal",
		Phones:   phones,
	}
}

func dialog(phone string, chatID int64, last time.Time, messages int) radist.Dialog {
	d := radist.Dialog{
		Phone:         phone,
		ChatID:        chatID,
		ContactName:   "Contact",
		LastMessageAt: last,
	}
	d.FirstMessageAt = last.Add(-time.Hour)
	for i := 0; i < messages; i++ {
		d.Messages = append(d.Messages, radist.Message{ID: int64(i + 1)})
	}
	return d
}

func TestRows_CombinedModeJoinsByPhone(t *testing.T) {
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := Rows("acme", model.ModeCRMAndMessaging,
		[]model.DealRow{crmRow(100, "79991234567")},
		[]radist.Dialog{dialog("79991234567", 555, last, 3)})

	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "acme", row.TenantID)
	assert.Equal(t, int64(100), row.DealID)
	require.NotNil(t, row.ChatID)
	assert.Equal(t, int64(555), *row.ChatID)
	assert.Equal(t, 3, row.MessagesCount)
	require.NotNil(t, row.LastMessageAt)
	assert.Equal(t, last, *row.LastMessageAt)
}

func TestRows_LatestDialogWinsPerPhone(t *testing.T) {
	older := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)

	rows := Rows("acme", model.ModeCRMAndMessaging,
		[]model.DealRow{crmRow(100, "79991234567")},
		[]radist.Dialog{
			dialog("79991234567", 1, older, 2),
			dialog("79991234567", 2, newer, 5),
		})

	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].ChatID)
	assert.Equal(t, int64(2), *rows[0].ChatID)
	assert.Equal(t, 5, rows[0].MessagesCount)
}

func TestRows_NoMatchKeepsCRMRowWithoutDialog(t *testing.T) {
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := Rows("acme", model.ModeCRMAndMessaging,
		[]model.DealRow{crmRow(100, "79991234567")},
		[]radist.Dialog{dialog("79997654321", 555, last, 4)})

	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].ChatID)
	assert.Equal(t, 0, rows[0].MessagesCount)
	assert.Empty(t, rows[0].DialogNorm)
}

func TestRows_MessagingOnlyBuildsSyntheticRows(t *testing.T) {
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := Rows("acme", model.ModeMessagingOnly, nil,
		[]radist.Dialog{dialog("79991234567", 555, last, 2)})

	require.Len(t, rows, 1)
	row := rows[0]
	assert.Negative(t, row.DealID)
	assert.Equal(t, "radist_chat", row.Status)
	assert.Equal(t, 2, row.MessagesCount)

	// Same dialog again produces the same synthetic id.
	again := Rows("acme", model.ModeMessagingOnly, nil,
		[]radist.Dialog{dialog("79991234567", 555, last, 2)})
	assert.Equal(t, row.DealID, again[0].DealID)
}

func TestRows_CRMOnlyIgnoresDialogs(t *testing.T) {
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := Rows("acme", model.ModeCRMOnly,
		[]model.DealRow{crmRow(100, "79991234567")},
		[]radist.Dialog{dialog("79991234567", 555, last, 3)})

	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].ChatID)
	assert.Equal(t, 0, rows[0].MessagesCount)
}

func TestFinalize_Fallbacks(t *testing.T) {
	rows := Rows("acme", model.ModeCRMOnly,
		[]model.DealRow{{DealName: "Unnumbered", Phone: "8 (999) 123-45-67", MessagesCount: -3}}, nil)

	require.Len(t, rows, 1)
	row := rows[0]
	assert.NotZero(t, row.DealID)
	assert.Equal(t, "79991234567", row.Phone)
	assert.Equal(t, 0, row.MessagesCount)
	assert.NotNil(t, row.DealAttrs)
	assert.NotNil(t, row.ContactAttrs)

	// Name-derived ids are stable.
	again := Rows("acme", model.ModeCRMOnly,
		[]model.DealRow{{DealName: "Unnumbered"}}, nil)
	assert.Equal(t, row.DealID, again[0].DealID)
}

func TestStableNumericID(t *testing.T) {
	a := StableNumericID("radist:555")
	b := StableNumericID("radist:555")
	c := StableNumericID("radist:556")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Positive(t, a)
}
