package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/synkro/synkro/internal/merge"
	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/schedule"
	"github.com/synkro/synkro/pkg/radist"
	"github.com/synkro/synkro/pkg/supabase"
)

// ExecuteJob runs one report-build job to a terminal state. Re-invoking it
// on a terminal or already-running job is a no-op, so double dispatch after
// an idempotency-key collision is harmless.
func (o *Orchestrator) ExecuteJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.store.GetJobRun(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() || job.Status == model.JobRunning {
		zap.L().Info("job not runnable, skipping",
			zap.String("job_id", jobID.String()),
			zap.String("status", string(job.Status)))
		return nil
	}
	if err := o.store.MarkJobRunning(ctx, jobID); err != nil {
		// Lost the race with another executor.
		zap.L().Info("job claimed elsewhere", zap.String("job_id", jobID.String()))
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.trackJob(jobID, cancel)
	defer func() {
		o.untrackJob(jobID)
		cancel()
	}()

	logger := zap.L().With(
		zap.String("job_id", jobID.String()),
		zap.Int64("tenant_id", job.TenantID))

	if err := o.runSteps(runCtx, job, logger); err != nil {
		if completeErr := o.store.CompleteJobRun(context.Background(), jobID, model.JobFailed, err.Error()); completeErr != nil {
			// Stop may have already finished the job.
			logger.Warn("could not mark job failed", zap.Error(completeErr))
		}
		if eventErr := o.store.AppendJobEvent(context.Background(), jobID, model.EventError, "Failed",
			map[string]any{"error": err.Error()}); eventErr != nil {
			logger.Warn("failure event write failed", zap.Error(eventErr))
		}
		o.audit.Record(context.Background(), &job.TenantID, "system", "report_job_failed",
			"report job failed", map[string]any{
				"job_id": jobID.String(),
				"error":  err.Error(),
			})
		logger.Error("job failed", zap.Error(err))
		return err
	}

	if err := o.store.CompleteJobRun(runCtx, jobID, model.JobSuccess, ""); err != nil {
		logger.Warn("could not mark job succeeded", zap.Error(err))
		return nil
	}
	logger.Info("job succeeded")
	return nil
}

func (o *Orchestrator) checkpoint(ctx context.Context, jobID uuid.UUID, progress int, step string) error {
	if err := o.store.UpdateJobProgress(ctx, jobID, step, progress); err != nil {
		return err
	}
	return o.store.AppendJobEvent(ctx, jobID, model.EventInfo, step,
		map[string]any{"progress": progress})
}

func (o *Orchestrator) runSteps(ctx context.Context, job *model.JobRun, logger *zap.Logger) error {
	if err := o.checkpoint(ctx, job.ID, 5, "Checking tenant configuration"); err != nil {
		return err
	}

	tenant, err := o.store.GetTenant(ctx, job.TenantID)
	if err != nil {
		return err
	}
	cfg, err := o.store.GetRuntimeConfig(ctx, job.TenantID)
	if err != nil {
		return err
	}

	windowStart, windowEnd := o.jobWindow(job, cfg)
	clients, err := o.buildClients(ctx, job.TenantID, job.Mode)
	if err != nil {
		return err
	}

	if err := o.checkpoint(ctx, job.ID, 25, "Syncing source systems"); err != nil {
		return err
	}
	rowCount, dialogCount, err := o.syncSources(ctx, tenant.Slug, job.Mode, *cfg, clients, windowStart, windowEnd)
	if err != nil {
		return err
	}
	if err := o.store.MergeJobMetadata(ctx, job.ID, map[string]any{
		"rows_upserted": rowCount,
		"dialogs":       dialogCount,
	}); err != nil {
		logger.Warn("metadata write failed", zap.Error(err))
	}

	if err := o.checkpoint(ctx, job.ID, 45, "Loading data"); err != nil {
		return err
	}
	records, err := o.loadRecords(ctx, tenant.Slug, job.Mode, *cfg, clients, windowStart, windowEnd)
	if err != nil {
		return err
	}

	if err := o.checkpoint(ctx, job.ID, 65, "Preparing report"); err != nil {
		return err
	}
	text, meta := o.generateReport(ctx, job.Mode, *cfg, clients, records, windowStart, windowEnd)
	if len(meta) > 0 {
		if err := o.store.MergeJobMetadata(ctx, job.ID, meta); err != nil {
			logger.Warn("metadata write failed", zap.Error(err))
		}
		if errMsg, ok := meta["ai_error"].(string); ok {
			if err := o.store.AppendJobEvent(ctx, job.ID, model.EventError,
				"AI generation failed, using statistical fallback",
				map[string]any{"error": errMsg}); err != nil {
				logger.Warn("fallback event write failed", zap.Error(err))
			}
		}
	}

	if err := o.checkpoint(ctx, job.ID, 82, "Saving report"); err != nil {
		return err
	}
	report, err := o.saveReport(ctx, job, *cfg, clients, text, windowStart, windowEnd, meta)
	if err != nil {
		return err
	}

	if err := o.checkpoint(ctx, job.ID, 95, "Sending notification"); err != nil {
		return err
	}
	o.notify(ctx, tenant, report, clients, text, logger)

	return o.checkpoint(ctx, job.ID, 100, "Done")
}

// jobWindow returns the job's window, backfilling from the runtime config
// when the queued run predates window assignment.
func (o *Orchestrator) jobWindow(job *model.JobRun, cfg *model.RuntimeConfig) (time.Time, time.Time) {
	if job.WindowStart != nil && job.WindowEnd != nil {
		return job.WindowStart.UTC(), job.WindowEnd.UTC()
	}
	return schedule.LastClosedWindow(*cfg, time.Now().UTC())
}

// syncSources pulls from the configured sources, merges, and upserts the
// unified rows into the analytic store.
func (o *Orchestrator) syncSources(ctx context.Context, slug string, mode model.SyncMode, cfg model.RuntimeConfig, clients *tenantClients, windowStart, windowEnd time.Time) (int, int, error) {
	caps := cfg.Caps()

	var crmRows []model.DealRow
	if mode.UsesCRM() {
		var err error
		crmRows, err = clients.crm.CollectRows(ctx, slug, windowStart, windowEnd, caps.MaxCRMLeads, caps.MaxCRMContacts)
		if err != nil {
			return 0, 0, err
		}
	}

	var dialogs []radist.Dialog
	if mode.UsesMessaging() {
		params := radist.FetchParams{
			WindowStart:     windowStart,
			WindowEnd:       windowEnd,
			FetchLimit:      cfg.EffectiveFetchLimit(),
			MaxContactPages: caps.MaxContactPages,
			MaxCandidates:   caps.MaxCandidates,
			MaxMessagePages: caps.MaxMessagePages,
		}
		if mode == model.ModeCRMAndMessaging {
			targets := make(map[string]bool)
			for _, row := range crmRows {
				for _, phone := range row.Phones {
					targets[phone] = true
				}
			}
			params.TargetPhones = targets
		}
		var err error
		dialogs, err = clients.messaging.CollectDialogs(ctx, params)
		if err != nil {
			return 0, 0, err
		}
	}

	rows := merge.Rows(slug, mode, crmRows, dialogs)
	if err := clients.storage.UpsertDeals(ctx, rows); err != nil {
		return 0, 0, err
	}
	return len(rows), len(dialogs), nil
}

// loadRecords reads the window's unified rows back from the analytic store.
// Non-CRM modes filter on message recency and drop rows below the dialog
// threshold; CRM-only filters on CRM update time and keeps message-less rows.
func (o *Orchestrator) loadRecords(ctx context.Context, slug string, mode model.SyncMode, cfg model.RuntimeConfig, clients *tenantClients, windowStart, windowEnd time.Time) ([]supabase.DealRecord, error) {
	filterField := "last_message_at"
	minMessages := cfg.MinDialogsForReport
	if mode == model.ModeCRMOnly {
		filterField = "updated_at"
		minMessages = 0
	}
	limit := cfg.EffectiveFetchLimit()
	if limit < 50 {
		limit = 50
	}
	return clients.storage.SelectDeals(ctx, supabase.DealQuery{
		TenantSlug:  slug,
		FilterField: filterField,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Limit:       limit,
		MinMessages: minMessages,
	})
}

// generateReport produces the report text, falling back to the statistical
// report when the AI provider fails or the window holds too few dialogs.
// Metadata always carries the summary statistics and AI provenance.
func (o *Orchestrator) generateReport(ctx context.Context, mode model.SyncMode, cfg model.RuntimeConfig, clients *tenantClients, records []supabase.DealRecord, windowStart, windowEnd time.Time) (string, map[string]any) {
	meta := reportSummary(records)
	meta["ai_provider"] = clients.aiProviderName
	if clients.aiModelName != "" {
		meta["ai_model"] = clients.aiModelName
	}

	if mode != model.ModeCRMOnly {
		withDialogs := 0
		for _, r := range records {
			if r.MessagesCount > 0 {
				withDialogs++
			}
		}
		if withDialogs < cfg.MinDialogsForReport {
			meta["ai_fallback"] = true
			meta["ai_skipped"] = "not_enough_dialogs"
			return FallbackReport(records, windowStart, windowEnd), meta
		}
	}

	prompt := clients.reportPrompt
	if prompt == "" {
		prompt = reportSystemPrompt
	}
	contextText := BuildReportContext(records, windowStart, windowEnd)
	text, err := clients.provider.Generate(ctx, prompt, contextText)
	if err != nil {
		meta["ai_fallback"] = true
		meta["ai_error"] = err.Error()
		return FallbackReport(records, windowStart, windowEnd), meta
	}
	meta["ai_fallback"] = false
	return text, meta
}

// saveReport persists the report locally and pushes it to the analytic
// store.
func (o *Orchestrator) saveReport(ctx context.Context, job *model.JobRun, cfg model.RuntimeConfig, clients *tenantClients, text string, windowStart, windowEnd time.Time, meta map[string]any) (*model.Report, error) {
	reportType := "forced"
	if job.Trigger == model.TriggerScheduled {
		reportType = "daily"
	}
	deadline := time.Now().UTC().Add(time.Duration(cfg.FollowupMinutes) * time.Minute)
	report := &model.Report{
		TenantID:           job.TenantID,
		JobID:              &job.ID,
		PeriodStart:        windowStart,
		PeriodEnd:          windowEnd,
		ReportType:         reportType,
		Status:             model.ReportReady,
		SummaryText:        text,
		Metadata:           meta,
		WindowStart:        &windowStart,
		WindowEnd:          &windowEnd,
		FollowupDeadlineAt: &deadline,
	}
	if err := o.store.CreateReport(ctx, report); err != nil {
		return nil, err
	}

	tenant, err := o.store.GetTenant(ctx, job.TenantID)
	if err != nil {
		return nil, err
	}
	comment := ""
	if fallback, _ := meta["ai_fallback"].(bool); fallback {
		comment = "statistical fallback"
	}
	// The push is best effort: the report is already persisted locally.
	if err := clients.storage.InsertReport(ctx, supabase.ReportRow{
		TenantID:   tenant.Slug,
		ReportDate: windowEnd.UTC().Format("2006-01-02"),
		Type:       reportType,
		Text:       text,
		Comment:    comment,
	}); err != nil {
		zap.L().Warn("report push to analytic store failed",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		if eventErr := o.store.AppendJobEvent(ctx, job.ID, model.EventError,
			"Report push failed", map[string]any{"error": err.Error()}); eventErr != nil {
			zap.L().Warn("report push event write failed", zap.Error(eventErr))
		}
	}
	return report, nil
}

// notify sends the report to the tenant's chat when a bot is configured. A
// send failure is recorded but does not fail the job.
func (o *Orchestrator) notify(ctx context.Context, tenant *model.Tenant, report *model.Report, clients *tenantClients, text string, logger *zap.Logger) {
	if clients.bot == nil {
		return
	}
	message := fmt.Sprintf("[synkro] Report %s\n\n%s", tenant.Name, text)
	if err := clients.bot.SendMessage(ctx, message); err != nil {
		logger.Warn("report notification failed", zap.Error(err))
		if report.JobID != nil {
			if eventErr := o.store.AppendJobEvent(ctx, *report.JobID, model.EventError,
				"Notification failed", map[string]any{"error": err.Error()}); eventErr != nil {
				logger.Warn("notification event write failed", zap.Error(eventErr))
			}
		}
		return
	}
	if err := o.store.SetReportStatus(ctx, report.ID, model.ReportSent); err != nil {
		logger.Warn("report status update failed", zap.Error(err))
	}
}
