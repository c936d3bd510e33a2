package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncMode(t *testing.T) {
	assert.True(t, ModeCRMAndMessaging.Valid())
	assert.True(t, ModeMessagingOnly.Valid())
	assert.True(t, ModeCRMOnly.Valid())
	assert.False(t, SyncMode("everything").Valid())

	assert.True(t, ModeCRMAndMessaging.UsesCRM())
	assert.True(t, ModeCRMOnly.UsesCRM())
	assert.False(t, ModeMessagingOnly.UsesCRM())

	assert.True(t, ModeCRMAndMessaging.UsesMessaging())
	assert.True(t, ModeMessagingOnly.UsesMessaging())
	assert.False(t, ModeCRMOnly.UsesMessaging())
}

func TestEffectiveFetchLimit_Floor(t *testing.T) {
	cfg := DefaultRuntimeConfig(1, "UTC")
	assert.Equal(t, 200, cfg.EffectiveFetchLimit())

	cfg.FetchLimit = 3
	assert.Equal(t, 10, cfg.EffectiveFetchLimit())

	cfg.FetchLimit = 0
	assert.Equal(t, 10, cfg.EffectiveFetchLimit())
}

func TestBoundedInt(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"nil falls back to default", nil, 100},
		{"int passes through", 250, 250},
		{"int64 converted", int64(300), 300},
		{"float64 converted", float64(150), 150},
		{"numeric string parsed", "400", 400},
		{"garbage string falls back", "lots", 100},
		{"below min clamped", 5, 50},
		{"above max clamped", 9999, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BoundedInt(tt.value, 100, 50, 500))
		})
	}
}

func TestCaps_DefaultsAndMetadataOverrides(t *testing.T) {
	cfg := DefaultRuntimeConfig(1, "UTC")
	caps := cfg.Caps()
	assert.Equal(t, 500, caps.MaxCRMLeads)
	assert.Equal(t, 800, caps.MaxCRMContacts)
	assert.Equal(t, 25, caps.MaxContactPages)
	assert.Equal(t, 600, caps.MaxCandidates)
	assert.Equal(t, 10, caps.MaxMessagePages)

	cfg.Metadata = map[string]any{
		"max_crm_leads":               float64(1000),
		"max_messaging_message_pages": 999,
	}
	caps = cfg.Caps()
	assert.Equal(t, 1000, caps.MaxCRMLeads)
	assert.Equal(t, 50, caps.MaxMessagePages, "clamped to the page ceiling")
}

func TestCaps_CandidateFloorOnSmallFetchLimit(t *testing.T) {
	cfg := DefaultRuntimeConfig(1, "UTC")
	cfg.FetchLimit = 20
	assert.Equal(t, 300, cfg.Caps().MaxCandidates)
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobSuccess.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobRunning.Terminal())
}

func TestPublicString(t *testing.T) {
	cfg := IntegrationConfig{Public: map[string]any{"domain": "acme.amocrm.ru", "port": 443}}
	assert.Equal(t, "acme.amocrm.ru", cfg.PublicString("domain"))
	assert.Empty(t, cfg.PublicString("port"), "non-string values read as empty")
	assert.Empty(t, IntegrationConfig{}.PublicString("domain"))
}
