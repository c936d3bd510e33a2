// Package store persists the control plane: tenants, their runtime configs
// and integrations, job runs with their event logs, reports, follow-up
// messages, and the audit trail.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/synkro/synkro/internal/model"
)

// JobFilter specifies criteria for listing job runs.
type JobFilter struct {
	TenantID int64           `json:"tenant_id,omitempty"`
	Status   model.JobStatus `json:"status,omitempty"`
	Limit    int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the sync-and-report service.
type Store interface {
	// Tenants
	CreateTenant(ctx context.Context, name, slug, timezone string) (*model.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	GetTenant(ctx context.Context, id int64) (*model.Tenant, error)
	ListActiveTenants(ctx context.Context) ([]model.Tenant, error)
	SetTenantStatus(ctx context.Context, slug string, status model.TenantStatus) error

	// Runtime config
	GetRuntimeConfig(ctx context.Context, tenantID int64) (*model.RuntimeConfig, error)
	UpdateRuntimeConfig(ctx context.Context, cfg model.RuntimeConfig) error

	// Integrations
	UpsertIntegration(ctx context.Context, cfg model.IntegrationConfig) error
	GetIntegration(ctx context.Context, tenantID int64, kind model.IntegrationKind) (*model.IntegrationConfig, error)
	ListIntegrations(ctx context.Context, tenantID int64) (map[model.IntegrationKind]model.IntegrationConfig, error)
	UpdateIntegrationPublic(ctx context.Context, tenantID int64, kind model.IntegrationKind, public map[string]any) error

	// Job runs
	InsertOrGetJobRun(ctx context.Context, run *model.JobRun) (*model.JobRun, bool, error)
	GetJobRun(ctx context.Context, id uuid.UUID) (*model.JobRun, error)
	ListJobRuns(ctx context.Context, filter JobFilter) ([]model.JobRun, error)
	MarkJobRunning(ctx context.Context, id uuid.UUID) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, step string, progress int) error
	MergeJobMetadata(ctx context.Context, id uuid.UUID, patch map[string]any) error
	CompleteJobRun(ctx context.Context, id uuid.UUID, status model.JobStatus, errMsg string) error

	// Job events
	AppendJobEvent(ctx context.Context, jobID uuid.UUID, level model.EventLevel, message string, data map[string]any) error
	ListJobEvents(ctx context.Context, jobID uuid.UUID) ([]model.JobRunEvent, error)

	// Reports
	CreateReport(ctx context.Context, report *model.Report) error
	SetReportStatus(ctx context.Context, id uuid.UUID, status model.ReportStatus) error
	LatestReportForTenant(ctx context.Context, tenantID int64) (*model.Report, error)
	InsertReportMessage(ctx context.Context, msg model.ReportMessage) error
	ListRecentReportMessages(ctx context.Context, reportID uuid.UUID, limit int) ([]model.ReportMessage, error)

	// Audit
	InsertAudit(ctx context.Context, entry model.AuditEntry) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
