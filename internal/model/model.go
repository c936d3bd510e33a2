// Package model holds the domain entities shared across the service.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TenantStatus is the tenant lifecycle state.
type TenantStatus string

const (
	TenantActive   TenantStatus = "active"
	TenantPaused   TenantStatus = "paused"
	TenantDisabled TenantStatus = "disabled"
)

// Tenant is a customer workspace. Each tenant owns exactly one RuntimeConfig.
type Tenant struct {
	ID        int64
	Name      string
	Slug      string
	Status    TenantStatus
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncMode selects which source systems a tenant syncs from.
type SyncMode string

const (
	ModeCRMAndMessaging SyncMode = "crm_and_messaging"
	ModeMessagingOnly   SyncMode = "messaging_only"
	ModeCRMOnly         SyncMode = "crm_only"
)

// Valid reports whether m is one of the three supported modes.
func (m SyncMode) Valid() bool {
	switch m {
	case ModeCRMAndMessaging, ModeMessagingOnly, ModeCRMOnly:
		return true
	}
	return false
}

// UsesCRM reports whether the mode pulls from the CRM.
func (m SyncMode) UsesCRM() bool {
	return m == ModeCRMAndMessaging || m == ModeCRMOnly
}

// UsesMessaging reports whether the mode pulls from the messaging platform.
func (m SyncMode) UsesMessaging() bool {
	return m == ModeCRMAndMessaging || m == ModeMessagingOnly
}

// RuntimeConfig holds the per-tenant scheduling and fetch knobs. It is
// mutated only through settings updates and read by every scheduling and
// connector decision.
type RuntimeConfig struct {
	TenantID             int64
	Mode                 SyncMode
	Timezone             string
	BusinessDayStart     string // "HH:MM", tenant-local
	ScheduledRunTime     string // "HH:MM", tenant-local
	ScheduleEnabled      bool
	FetchLimit           int
	MinDialogsForReport  int
	MaxForceLookbackDays int
	MaxForceWindowHours  int
	FollowupMinutes      int
	Metadata             map[string]any
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DefaultRuntimeConfig returns the config a freshly created tenant gets.
func DefaultRuntimeConfig(tenantID int64, tz string) RuntimeConfig {
	if tz == "" {
		tz = "UTC"
	}
	return RuntimeConfig{
		TenantID:             tenantID,
		Mode:                 ModeCRMAndMessaging,
		Timezone:             tz,
		BusinessDayStart:     "22:01",
		ScheduledRunTime:     "22:10",
		ScheduleEnabled:      true,
		FetchLimit:           200,
		MinDialogsForReport:  1,
		MaxForceLookbackDays: 3,
		MaxForceWindowHours:  24,
		FollowupMinutes:      60,
	}
}

// EffectiveFetchLimit applies the floor of 10 on the messaging fetch limit.
func (c RuntimeConfig) EffectiveFetchLimit() int {
	if c.FetchLimit < 10 {
		return 10
	}
	return c.FetchLimit
}

// SourceCaps bounds every paginated fetch so sync loops terminate even
// against misbehaving upstreams.
type SourceCaps struct {
	MaxCRMLeads     int
	MaxCRMContacts  int
	MaxContactPages int
	MaxCandidates   int
	MaxMessagePages int
}

// Caps reads the optional per-source caps from the config metadata blob,
// clamping each to its inclusive bounds.
func (c RuntimeConfig) Caps() SourceCaps {
	fetchLimit := c.EffectiveFetchLimit()
	defaultCandidates := fetchLimit * 3
	if defaultCandidates < 300 {
		defaultCandidates = 300
	}
	return SourceCaps{
		MaxCRMLeads:     BoundedInt(c.Metadata["max_crm_leads"], 500, 50, 5000),
		MaxCRMContacts:  BoundedInt(c.Metadata["max_crm_contacts"], 800, 50, 5000),
		MaxContactPages: BoundedInt(c.Metadata["max_messaging_contact_pages"], 25, 1, 200),
		MaxCandidates:   BoundedInt(c.Metadata["max_messaging_candidates"], defaultCandidates, 50, 3000),
		MaxMessagePages: BoundedInt(c.Metadata["max_messaging_message_pages"], 10, 1, 50),
	}
}

// BoundedInt coerces a metadata value to an int, falling back to def when it
// is absent or malformed, then clamps it to [min, max].
func BoundedInt(value any, def, min, max int) int {
	parsed := def
	switch v := value.(type) {
	case int:
		parsed = v
	case int64:
		parsed = int(v)
	case float64:
		parsed = int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			parsed = int(n)
		}
	case string:
		var n int
		ok := true
		for _, r := range v {
			if r < '0' || r > '9' {
				ok = false
				break
			}
			n = n*10 + int(r-'0')
		}
		if ok && v != "" {
			parsed = n
		}
	}
	if parsed < min {
		return min
	}
	if parsed > max {
		return max
	}
	return parsed
}

// IntegrationKind identifies an external collaborator.
type IntegrationKind string

const (
	IntegrationSupabase IntegrationKind = "supabase"
	IntegrationAmoCRM   IntegrationKind = "amocrm"
	IntegrationRadist   IntegrationKind = "radist"
	IntegrationAI       IntegrationKind = "ai"
	IntegrationTelegram IntegrationKind = "telegram"
)

// IntegrationConfig stores one tenant integration. Secrets are encrypted at
// rest and decrypted only just before use.
type IntegrationConfig struct {
	ID              int64
	TenantID        int64
	Kind            IntegrationKind
	Public          map[string]any
	SecretEncrypted string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PublicString reads a string value from the public config blob.
func (c IntegrationConfig) PublicString(key string) string {
	if c.Public == nil {
		return ""
	}
	s, _ := c.Public[key].(string)
	return s
}

// JobStatus is the job run state. Success and failed are terminal.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobFailed
}

// TriggerType records what initiated a job.
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
	TriggerSystem    TriggerType = "system"
)

// JobTypeReportBuild is the only job kind the pipeline currently runs.
const JobTypeReportBuild = "report_build"

// JobRun is one execution attempt of the sync-and-report pipeline.
type JobRun struct {
	ID             uuid.UUID
	TenantID       int64
	JobType        string
	Mode           SyncMode
	Trigger        TriggerType
	Status         JobStatus
	CurrentStep    string
	Progress       int
	Error          string
	WindowStart    *time.Time
	WindowEnd      *time.Time
	RequestedBy    string
	IdempotencyKey string
	Attempt        int
	Metadata       map[string]any
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventLevel classifies a job run event.
type EventLevel string

const (
	EventInfo  EventLevel = "info"
	EventError EventLevel = "error"
)

// JobRunEvent is an append-only log entry tied to a JobRun.
type JobRunEvent struct {
	ID        int64
	JobID     uuid.UUID
	Level     EventLevel
	Message   string
	Data      map[string]any
	CreatedAt time.Time
}

// ReportStatus is the report lifecycle state.
type ReportStatus string

const (
	ReportDraft  ReportStatus = "draft"
	ReportReady  ReportStatus = "ready"
	ReportSent   ReportStatus = "sent"
	ReportFailed ReportStatus = "failed"
)

// Report is one generated artifact per successful pipeline run.
type Report struct {
	ID                 uuid.UUID
	TenantID           int64
	JobID              *uuid.UUID
	PeriodStart        time.Time
	PeriodEnd          time.Time
	ReportType         string
	Status             ReportStatus
	SummaryText        string
	Metadata           map[string]any
	WindowStart        *time.Time
	WindowEnd          *time.Time
	FollowupDeadlineAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ReportMessage is one follow-up Q&A pair tied to a report. Ordering by
// creation time defines the conversation context for subsequent answers.
type ReportMessage struct {
	ID        int64
	ReportID  uuid.UUID
	Actor     string
	Question  string
	Answer    string
	CreatedAt time.Time
}

// AuditEntry is a fire-and-forget structured audit record.
type AuditEntry struct {
	ID        int64
	TenantID  *int64
	Actor     string
	Action    string
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// DealRow is the unified per-deal record written to the analytic store.
// (tenant_id, deal_id) is the upsert key, so re-running a window overwrites
// rather than duplicates.
type DealRow struct {
	TenantID       string            `json:"tenant_id"`
	DealID         int64             `json:"deal_id"`
	DealName       string            `json:"deal_name"`
	StatusID       *int64            `json:"status_id"`
	Status         string            `json:"status"`
	Responsible    string            `json:"responsible"`
	Phone          string            `json:"phone"`
	ChatID         *int64            `json:"chat_id"`
	FirstMessageAt *time.Time        `json:"first_message_at"`
	LastMessageAt  *time.Time        `json:"last_message_at"`
	MessagesCount  int               `json:"messages_count"`
	DealAttrs      map[string]any    `json:"deal_attrs_json"`
	ContactAttrs   map[string]any    `json:"contact_attrs_json"`
	DialogRaw      []json.RawMessage `json:"dialog_raw"`
	DialogNorm     string            `json:"dialog_norm"`
	Comment        string            `json:"comment"`

	// Phones is the working set of normalized phones used by the merge join.
	// Never serialized.
	Phones []string `json:"-"`
}
