package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/synkro/synkro/internal/db"
	"github.com/synkro/synkro/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore over a tuned connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenants (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL UNIQUE,
	status     TEXT NOT NULL DEFAULT 'active',
	timezone   TEXT NOT NULL DEFAULT 'UTC',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runtime_configs (
	tenant_id               BIGINT PRIMARY KEY REFERENCES tenants(id),
	mode                    TEXT NOT NULL DEFAULT 'crm_and_messaging',
	timezone                TEXT NOT NULL DEFAULT 'UTC',
	business_day_start      TEXT NOT NULL DEFAULT '22:01',
	scheduled_run_time      TEXT NOT NULL DEFAULT '22:10',
	schedule_enabled        BOOLEAN NOT NULL DEFAULT TRUE,
	fetch_limit             INTEGER NOT NULL DEFAULT 200,
	min_dialogs_for_report  INTEGER NOT NULL DEFAULT 1,
	max_force_lookback_days INTEGER NOT NULL DEFAULT 3,
	max_force_window_hours  INTEGER NOT NULL DEFAULT 24,
	followup_minutes        INTEGER NOT NULL DEFAULT 60,
	metadata                JSONB NOT NULL DEFAULT '{}',
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS integrations (
	id               BIGSERIAL PRIMARY KEY,
	tenant_id        BIGINT NOT NULL REFERENCES tenants(id),
	kind             TEXT NOT NULL,
	public           JSONB NOT NULL DEFAULT '{}',
	secret_encrypted TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, kind)
);

CREATE TABLE IF NOT EXISTS job_runs (
	id              UUID PRIMARY KEY,
	tenant_id       BIGINT NOT NULL REFERENCES tenants(id),
	job_type        TEXT NOT NULL,
	mode            TEXT NOT NULL,
	trigger_type    TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	current_step    TEXT NOT NULL DEFAULT '',
	progress        INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	window_start    TIMESTAMPTZ,
	window_end      TIMESTAMPTZ,
	requested_by    TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL UNIQUE,
	attempt         INTEGER NOT NULL DEFAULT 0,
	metadata        JSONB NOT NULL DEFAULT '{}',
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_job_runs_tenant_created ON job_runs(tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_job_runs_status ON job_runs(status);

CREATE TABLE IF NOT EXISTS job_run_events (
	id         BIGSERIAL PRIMARY KEY,
	job_id     UUID NOT NULL REFERENCES job_runs(id),
	level      TEXT NOT NULL DEFAULT 'info',
	message    TEXT NOT NULL,
	data       JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_job_run_events_job ON job_run_events(job_id, created_at);

CREATE TABLE IF NOT EXISTS reports (
	id                   UUID PRIMARY KEY,
	tenant_id            BIGINT NOT NULL REFERENCES tenants(id),
	job_id               UUID REFERENCES job_runs(id),
	period_start         TIMESTAMPTZ NOT NULL,
	period_end           TIMESTAMPTZ NOT NULL,
	report_type          TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'draft',
	summary_text         TEXT NOT NULL DEFAULT '',
	metadata             JSONB NOT NULL DEFAULT '{}',
	window_start         TIMESTAMPTZ,
	window_end           TIMESTAMPTZ,
	followup_deadline_at TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reports_tenant_created ON reports(tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS report_messages (
	id         BIGSERIAL PRIMARY KEY,
	report_id  UUID NOT NULL REFERENCES reports(id),
	actor      TEXT NOT NULL DEFAULT '',
	question   TEXT NOT NULL,
	answer     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_report_messages_report ON report_messages(report_id, created_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id         BIGSERIAL PRIMARY KEY,
	tenant_id  BIGINT REFERENCES tenants(id),
	actor      TEXT NOT NULL DEFAULT '',
	action     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	metadata   JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_tenant_created ON audit_log(tenant_id, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func unmarshalMeta(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func (s *PostgresStore) CreateTenant(ctx context.Context, name, slug, timezone string) (*model.Tenant, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create tenant")
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO tenants (name, slug, status, timezone, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		name, slug, string(model.TenantActive), timezone, now, now,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert tenant %s", slug)
	}

	cfg := model.DefaultRuntimeConfig(id, timezone)
	metaJSON, err := marshalMeta(cfg.Metadata)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal config metadata")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO runtime_configs
		   (tenant_id, mode, timezone, business_day_start, scheduled_run_time, schedule_enabled,
		    fetch_limit, min_dialogs_for_report, max_force_lookback_days, max_force_window_hours,
		    followup_minutes, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, string(cfg.Mode), cfg.Timezone, cfg.BusinessDayStart, cfg.ScheduledRunTime, cfg.ScheduleEnabled,
		cfg.FetchLimit, cfg.MinDialogsForReport, cfg.MaxForceLookbackDays, cfg.MaxForceWindowHours,
		cfg.FollowupMinutes, metaJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert runtime config for tenant %s", slug)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create tenant")
	}
	return &model.Tenant{
		ID: id, Name: name, Slug: slug,
		Status: model.TenantActive, Timezone: timezone,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

const tenantColumns = `id, name, slug, status, timezone, created_at, updated_at`

func scanTenant(row pgx.Row) (*model.Tenant, error) {
	var t model.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.Timezone, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tenant %s", slug)
	}
	return t, nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, id int64) (*model.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tenant %d", id)
	}
	return t, nil
}

func (s *PostgresStore) ListActiveTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE status = $1 ORDER BY id`,
		string(model.TenantActive))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active tenants")
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan tenant")
		}
		tenants = append(tenants, *t)
	}
	return tenants, eris.Wrap(rows.Err(), "postgres: list active tenants iterate")
}

func (s *PostgresStore) SetTenantStatus(ctx context.Context, slug string, status model.TenantStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET status = $1, updated_at = $2 WHERE slug = $3`,
		string(status), time.Now().UTC(), slug)
	if err != nil {
		return eris.Wrapf(err, "postgres: set tenant status %s", slug)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("tenant not found: %s", slug)
	}
	return nil
}

func (s *PostgresStore) GetRuntimeConfig(ctx context.Context, tenantID int64) (*model.RuntimeConfig, error) {
	var cfg model.RuntimeConfig
	var metaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, mode, timezone, business_day_start, scheduled_run_time, schedule_enabled,
		        fetch_limit, min_dialogs_for_report, max_force_lookback_days, max_force_window_hours,
		        followup_minutes, metadata, created_at, updated_at
		 FROM runtime_configs WHERE tenant_id = $1`, tenantID,
	).Scan(&cfg.TenantID, &cfg.Mode, &cfg.Timezone, &cfg.BusinessDayStart, &cfg.ScheduledRunTime,
		&cfg.ScheduleEnabled, &cfg.FetchLimit, &cfg.MinDialogsForReport, &cfg.MaxForceLookbackDays,
		&cfg.MaxForceWindowHours, &cfg.FollowupMinutes, &metaJSON, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get runtime config %d", tenantID)
	}
	cfg.Metadata = unmarshalMeta(metaJSON)
	return &cfg, nil
}

func (s *PostgresStore) UpdateRuntimeConfig(ctx context.Context, cfg model.RuntimeConfig) error {
	metaJSON, err := marshalMeta(cfg.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal config metadata")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runtime_configs SET
		   mode = $1, timezone = $2, business_day_start = $3, scheduled_run_time = $4,
		   schedule_enabled = $5, fetch_limit = $6, min_dialogs_for_report = $7,
		   max_force_lookback_days = $8, max_force_window_hours = $9, followup_minutes = $10,
		   metadata = $11, updated_at = $12
		 WHERE tenant_id = $13`,
		string(cfg.Mode), cfg.Timezone, cfg.BusinessDayStart, cfg.ScheduledRunTime,
		cfg.ScheduleEnabled, cfg.FetchLimit, cfg.MinDialogsForReport,
		cfg.MaxForceLookbackDays, cfg.MaxForceWindowHours, cfg.FollowupMinutes,
		metaJSON, time.Now().UTC(), cfg.TenantID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update runtime config %d", cfg.TenantID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("runtime config not found for tenant %d", cfg.TenantID)
	}
	return nil
}

func (s *PostgresStore) UpsertIntegration(ctx context.Context, cfg model.IntegrationConfig) error {
	publicJSON, err := marshalMeta(cfg.Public)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal integration public")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO integrations (tenant_id, kind, public, secret_encrypted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, kind) DO UPDATE SET
		   public = EXCLUDED.public, secret_encrypted = EXCLUDED.secret_encrypted, updated_at = EXCLUDED.updated_at`,
		cfg.TenantID, string(cfg.Kind), publicJSON, cfg.SecretEncrypted, now, now)
	return eris.Wrapf(err, "postgres: upsert integration %s/%d", cfg.Kind, cfg.TenantID)
}

func (s *PostgresStore) GetIntegration(ctx context.Context, tenantID int64, kind model.IntegrationKind) (*model.IntegrationConfig, error) {
	var cfg model.IntegrationConfig
	var publicJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, kind, public, secret_encrypted, created_at, updated_at
		 FROM integrations WHERE tenant_id = $1 AND kind = $2`, tenantID, string(kind),
	).Scan(&cfg.ID, &cfg.TenantID, &cfg.Kind, &publicJSON, &cfg.SecretEncrypted, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get integration %s/%d", kind, tenantID)
	}
	cfg.Public = unmarshalMeta(publicJSON)
	return &cfg, nil
}

func (s *PostgresStore) ListIntegrations(ctx context.Context, tenantID int64) (map[model.IntegrationKind]model.IntegrationConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, kind, public, secret_encrypted, created_at, updated_at
		 FROM integrations WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list integrations %d", tenantID)
	}
	defer rows.Close()

	out := make(map[model.IntegrationKind]model.IntegrationConfig)
	for rows.Next() {
		var cfg model.IntegrationConfig
		var publicJSON []byte
		if err := rows.Scan(&cfg.ID, &cfg.TenantID, &cfg.Kind, &publicJSON, &cfg.SecretEncrypted, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan integration")
		}
		cfg.Public = unmarshalMeta(publicJSON)
		out[cfg.Kind] = cfg
	}
	return out, eris.Wrap(rows.Err(), "postgres: list integrations iterate")
}

func (s *PostgresStore) UpdateIntegrationPublic(ctx context.Context, tenantID int64, kind model.IntegrationKind, public map[string]any) error {
	publicJSON, err := marshalMeta(public)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal integration public")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE integrations SET public = $1, updated_at = $2 WHERE tenant_id = $3 AND kind = $4`,
		publicJSON, time.Now().UTC(), tenantID, string(kind))
	if err != nil {
		return eris.Wrapf(err, "postgres: update integration public %s/%d", kind, tenantID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("integration not found: %s for tenant %d", kind, tenantID)
	}
	return nil
}

const jobColumns = `id, tenant_id, job_type, mode, trigger_type, status, current_step, progress, error,
	window_start, window_end, requested_by, idempotency_key, attempt, metadata,
	started_at, finished_at, created_at, updated_at`

func scanJobRun(row pgx.Row) (*model.JobRun, error) {
	var j model.JobRun
	var metaJSON []byte
	err := row.Scan(&j.ID, &j.TenantID, &j.JobType, &j.Mode, &j.Trigger, &j.Status, &j.CurrentStep,
		&j.Progress, &j.Error, &j.WindowStart, &j.WindowEnd, &j.RequestedBy, &j.IdempotencyKey,
		&j.Attempt, &metaJSON, &j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Metadata = unmarshalMeta(metaJSON)
	return &j, nil
}

// InsertOrGetJobRun inserts a new pending run, or returns the existing run
// holding the same idempotency key. The key row is locked inside the
// transaction so two concurrent schedulers cannot both insert.
func (s *PostgresStore) InsertOrGetJobRun(ctx context.Context, run *model.JobRun) (*model.JobRun, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: begin insert job run")
	}
	defer tx.Rollback(ctx)

	existing, err := scanJobRun(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM job_runs WHERE idempotency_key = $1 FOR UPDATE`,
		run.IdempotencyKey))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, eris.Wrap(err, "postgres: commit insert job run")
		}
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, eris.Wrap(err, "postgres: lookup job run by key")
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	now := time.Now().UTC()
	run.Status = model.JobPending
	run.CreatedAt = now
	run.UpdatedAt = now
	metaJSON, err := marshalMeta(run.Metadata)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: marshal job metadata")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO job_runs
		   (id, tenant_id, job_type, mode, trigger_type, status, current_step, progress, error,
		    window_start, window_end, requested_by, idempotency_key, attempt, metadata,
		    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		run.ID, run.TenantID, run.JobType, string(run.Mode), string(run.Trigger), string(run.Status),
		run.CurrentStep, run.Progress, run.Error, run.WindowStart, run.WindowEnd,
		run.RequestedBy, run.IdempotencyKey, run.Attempt, metaJSON, now, now)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: insert job run")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, eris.Wrap(err, "postgres: commit insert job run")
	}
	return run, true, nil
}

func (s *PostgresStore) GetJobRun(ctx context.Context, id uuid.UUID) (*model.JobRun, error) {
	j, err := scanJobRun(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM job_runs WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job run %s", id)
	}
	return j, nil
}

func (s *PostgresStore) ListJobRuns(ctx context.Context, filter JobFilter) ([]model.JobRun, error) {
	query := `SELECT ` + jobColumns + ` FROM job_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != 0 {
		query += fmt.Sprintf(` AND tenant_id = $%d`, argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list job runs")
	}
	defer rows.Close()

	var runs []model.JobRun
	for rows.Next() {
		j, err := scanJobRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job run")
		}
		runs = append(runs, *j)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list job runs iterate")
}

func (s *PostgresStore) MarkJobRunning(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_runs SET status = $1, started_at = $2, attempt = attempt + 1, updated_at = $2
		 WHERE id = $3 AND status = $4`,
		string(model.JobRunning), now, id, string(model.JobPending))
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job running %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not pending: %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, step string, progress int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE job_runs SET current_step = $1, progress = $2, updated_at = $3 WHERE id = $4`,
		step, progress, time.Now().UTC(), id)
	return eris.Wrapf(err, "postgres: update job progress %s", id)
}

func (s *PostgresStore) MergeJobMetadata(ctx context.Context, id uuid.UUID, patch map[string]any) error {
	patchJSON, err := marshalMeta(patch)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal metadata patch")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE job_runs SET metadata = COALESCE(metadata, '{}'::jsonb) || $1::jsonb, updated_at = $2 WHERE id = $3`,
		patchJSON, time.Now().UTC(), id)
	return eris.Wrapf(err, "postgres: merge job metadata %s", id)
}

func (s *PostgresStore) CompleteJobRun(ctx context.Context, id uuid.UUID, status model.JobStatus, errMsg string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_runs SET status = $1, error = $2, finished_at = $3, updated_at = $3
		 WHERE id = $4 AND status IN ($5, $6)`,
		string(status), errMsg, now, id, string(model.JobPending), string(model.JobRunning))
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job already terminal: %s", id)
	}
	return nil
}

func (s *PostgresStore) AppendJobEvent(ctx context.Context, jobID uuid.UUID, level model.EventLevel, message string, data map[string]any) error {
	dataJSON, err := marshalMeta(data)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal event data")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_run_events (job_id, level, message, data, created_at) VALUES ($1, $2, $3, $4, $5)`,
		jobID, string(level), message, dataJSON, time.Now().UTC())
	return eris.Wrapf(err, "postgres: append job event %s", jobID)
}

func (s *PostgresStore) ListJobEvents(ctx context.Context, jobID uuid.UUID) ([]model.JobRunEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, level, message, data, created_at FROM job_run_events
		 WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list job events %s", jobID)
	}
	defer rows.Close()

	var events []model.JobRunEvent
	for rows.Next() {
		var e model.JobRunEvent
		var dataJSON []byte
		if err := rows.Scan(&e.ID, &e.JobID, &e.Level, &e.Message, &dataJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job event")
		}
		e.Data = unmarshalMeta(dataJSON)
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list job events iterate")
}

func (s *PostgresStore) CreateReport(ctx context.Context, report *model.Report) error {
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	now := time.Now().UTC()
	report.CreatedAt = now
	report.UpdatedAt = now
	metaJSON, err := marshalMeta(report.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report metadata")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports
		   (id, tenant_id, job_id, period_start, period_end, report_type, status, summary_text,
		    metadata, window_start, window_end, followup_deadline_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		report.ID, report.TenantID, report.JobID, report.PeriodStart, report.PeriodEnd,
		report.ReportType, string(report.Status), report.SummaryText, metaJSON,
		report.WindowStart, report.WindowEnd, report.FollowupDeadlineAt, now, now)
	return eris.Wrap(err, "postgres: insert report")
}

func (s *PostgresStore) SetReportStatus(ctx context.Context, id uuid.UUID, status model.ReportStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set report status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("report not found: %s", id)
	}
	return nil
}

const reportColumns = `id, tenant_id, job_id, period_start, period_end, report_type, status,
	summary_text, metadata, window_start, window_end, followup_deadline_at, created_at, updated_at`

func (s *PostgresStore) LatestReportForTenant(ctx context.Context, tenantID int64) (*model.Report, error) {
	var r model.Report
	var metaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT 1`,
		tenantID,
	).Scan(&r.ID, &r.TenantID, &r.JobID, &r.PeriodStart, &r.PeriodEnd, &r.ReportType, &r.Status,
		&r.SummaryText, &metaJSON, &r.WindowStart, &r.WindowEnd, &r.FollowupDeadlineAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest report for tenant %d", tenantID)
	}
	r.Metadata = unmarshalMeta(metaJSON)
	return &r, nil
}

func (s *PostgresStore) InsertReportMessage(ctx context.Context, msg model.ReportMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_messages (report_id, actor, question, answer, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ReportID, msg.Actor, msg.Question, msg.Answer, time.Now().UTC())
	return eris.Wrapf(err, "postgres: insert report message %s", msg.ReportID)
}

// ListRecentReportMessages returns the last limit messages for a report in
// chronological order.
func (s *PostgresStore) ListRecentReportMessages(ctx context.Context, reportID uuid.UUID, limit int) ([]model.ReportMessage, error) {
	if limit <= 0 {
		limit = 6
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, report_id, actor, question, answer, created_at FROM report_messages
		 WHERE report_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, reportID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list report messages %s", reportID)
	}
	defer rows.Close()

	var messages []model.ReportMessage
	for rows.Next() {
		var m model.ReportMessage
		if err := rows.Scan(&m.ID, &m.ReportID, &m.Actor, &m.Question, &m.Answer, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report message")
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list report messages iterate")
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *PostgresStore) InsertAudit(ctx context.Context, entry model.AuditEntry) error {
	metaJSON, err := marshalMeta(entry.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal audit metadata")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (tenant_id, actor, action, message, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.TenantID, entry.Actor, entry.Action, entry.Message, metaJSON, time.Now().UTC())
	return eris.Wrap(err, "postgres: insert audit entry")
}
