// Package pipeline orchestrates the sync-and-report job: queueing with
// idempotency, windowed execution against the tenant's connectors, report
// generation, and follow-up answer assembly.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/synkro/synkro/internal/audit"
	"github.com/synkro/synkro/internal/crypto"
	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/request"
	"github.com/synkro/synkro/internal/schedule"
	"github.com/synkro/synkro/internal/store"
)

// Orchestrator runs report-build jobs for tenants.
type Orchestrator struct {
	store store.Store
	audit *audit.Sink
	box   *crypto.Box
	rc    *request.Client

	mu     sync.Mutex
	cancel map[uuid.UUID]context.CancelFunc
}

// New creates an Orchestrator sharing one request client across connectors.
func New(s store.Store, sink *audit.Sink, box *crypto.Box, rc *request.Client) *Orchestrator {
	return &Orchestrator{
		store:  s,
		audit:  sink,
		box:    box,
		rc:     rc,
		cancel: make(map[uuid.UUID]context.CancelFunc),
	}
}

// QueueParams describes a job to queue.
type QueueParams struct {
	TenantSlug  string
	Trigger     model.TriggerType
	RequestedBy string

	// WindowStart and WindowEnd force an explicit window. When either is nil
	// the last closed business day is used.
	WindowStart *time.Time
	WindowEnd   *time.Time
}

// QueueJob creates a pending run, or returns the run already holding the
// same idempotency key. The second return reports whether a new run was
// created.
func (o *Orchestrator) QueueJob(ctx context.Context, p QueueParams) (*model.JobRun, bool, error) {
	tenant, err := o.store.GetTenantBySlug(ctx, p.TenantSlug)
	if err != nil {
		return nil, false, err
	}
	cfg, err := o.store.GetRuntimeConfig(ctx, tenant.ID)
	if err != nil {
		return nil, false, err
	}
	if !cfg.Mode.Valid() {
		return nil, false, configErrorf("invalid sync mode: %s", cfg.Mode)
	}

	now := time.Now().UTC()
	var windowStart, windowEnd time.Time
	if p.WindowStart != nil && p.WindowEnd != nil {
		if err := schedule.ValidateForcedWindow(*cfg, now, *p.WindowStart, *p.WindowEnd); err != nil {
			return nil, false, err
		}
		windowStart, windowEnd = p.WindowStart.UTC(), p.WindowEnd.UTC()
	} else {
		windowStart, windowEnd = schedule.LastClosedWindow(*cfg, now)
	}

	run := &model.JobRun{
		TenantID:       tenant.ID,
		JobType:        model.JobTypeReportBuild,
		Mode:           cfg.Mode,
		Trigger:        p.Trigger,
		WindowStart:    &windowStart,
		WindowEnd:      &windowEnd,
		RequestedBy:    p.RequestedBy,
		IdempotencyKey: schedule.IdempotencyKey(tenant.ID, p.Trigger, cfg.Mode, windowStart, windowEnd),
	}
	run, created, err := o.store.InsertOrGetJobRun(ctx, run)
	if err != nil {
		return nil, false, err
	}
	if !created {
		zap.L().Info("job already queued for window",
			zap.String("job_id", run.ID.String()),
			zap.String("tenant", p.TenantSlug))
		return run, false, nil
	}

	if err := o.store.AppendJobEvent(ctx, run.ID, model.EventInfo, "Queued",
		map[string]any{"trigger": string(p.Trigger)}); err != nil {
		zap.L().Warn("queued event write failed", zap.Error(err))
	}
	o.audit.Record(ctx, &tenant.ID, p.RequestedBy, "report_job_queued",
		"report job queued", map[string]any{
			"job_id":       run.ID.String(),
			"trigger":      string(p.Trigger),
			"window_start": windowStart,
			"window_end":   windowEnd,
		})
	return run, true, nil
}

// Dispatch runs the job on a fresh goroutine with a detached context so an
// HTTP caller's disconnect does not kill the run. A synchronous handoff
// failure marks the job failed instead of leaving it pending forever.
func (o *Orchestrator) Dispatch(run *model.JobRun) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("job panicked", zap.String("job_id", run.ID.String()), zap.Any("panic", r))
				if err := o.store.CompleteJobRun(context.Background(), run.ID, model.JobFailed, "internal error"); err != nil {
					zap.L().Error("failed to mark panicked job", zap.Error(err))
				}
			}
		}()
		if err := o.ExecuteJob(context.Background(), run.ID); err != nil {
			zap.L().Error("job failed",
				zap.String("job_id", run.ID.String()),
				zap.Error(err))
		}
	}()
}

// Stop forcibly finishes a pending or running job. The run is marked failed
// with an operator-visible reason and its in-flight work is cancelled.
func (o *Orchestrator) Stop(ctx context.Context, jobID uuid.UUID, actor string) error {
	job, err := o.store.GetJobRun(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return eris.Errorf("job already finished: %s", jobID)
	}
	if err := o.store.CompleteJobRun(ctx, jobID, model.JobFailed, "stopped by user"); err != nil {
		return err
	}
	if err := o.store.AppendJobEvent(ctx, jobID, model.EventError, "Stopped by user",
		map[string]any{"actor": actor}); err != nil {
		zap.L().Warn("stop event write failed", zap.Error(err))
	}
	o.audit.Record(ctx, &job.TenantID, actor, "report_job_stopped",
		"report job stopped", map[string]any{"job_id": jobID.String()})

	o.mu.Lock()
	cancel, ok := o.cancel[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	zap.L().Info("job stopped",
		zap.String("job_id", jobID.String()),
		zap.String("actor", actor))
	return nil
}

func (o *Orchestrator) trackJob(jobID uuid.UUID, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancel[jobID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) untrackJob(jobID uuid.UUID) {
	o.mu.Lock()
	delete(o.cancel, jobID)
	o.mu.Unlock()
}
