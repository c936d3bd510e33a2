package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synkro/synkro/internal/audit"
	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/request"
	"github.com/synkro/synkro/internal/resilience"
	"github.com/synkro/synkro/internal/store"
	"github.com/synkro/synkro/pkg/supabase"
)

// fakeProvider records the system prompt it was handed and returns a canned
// answer or error.
type fakeProvider struct {
	prompt string
	text   string
	err    error
}

func (p *fakeProvider) Generate(ctx context.Context, systemPrompt, contextText string) (string, error) {
	p.prompt = systemPrompt
	if p.err != nil {
		return "", p.err
	}
	return p.text, nil
}

// stubStore overrides just the store methods a test exercises. Anything else
// panics through the embedded nil interface, which would mean the test
// reached further than intended.
type stubStore struct {
	store.Store

	job       *model.JobRun
	tenant    *model.Tenant
	reports   []*model.Report
	events    []string
	audits    []model.AuditEntry
	completed model.JobStatus
}

func (s *stubStore) GetJobRun(ctx context.Context, id uuid.UUID) (*model.JobRun, error) {
	return s.job, nil
}

func (s *stubStore) MarkJobRunning(ctx context.Context, id uuid.UUID) error { return nil }

func (s *stubStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, step string, progress int) error {
	return nil
}

func (s *stubStore) AppendJobEvent(ctx context.Context, jobID uuid.UUID, level model.EventLevel, message string, data map[string]any) error {
	s.events = append(s.events, message)
	return nil
}

func (s *stubStore) CompleteJobRun(ctx context.Context, id uuid.UUID, status model.JobStatus, errMsg string) error {
	s.completed = status
	return nil
}

func (s *stubStore) InsertAudit(ctx context.Context, entry model.AuditEntry) error {
	s.audits = append(s.audits, entry)
	return nil
}

func (s *stubStore) GetTenant(ctx context.Context, id int64) (*model.Tenant, error) {
	if s.tenant == nil {
		return nil, eris.New("tenant lookup failed")
	}
	return s.tenant, nil
}

func (s *stubStore) CreateReport(ctx context.Context, report *model.Report) error {
	report.ID = uuid.New()
	s.reports = append(s.reports, report)
	return nil
}

func TestGenerateReport_UsesConfiguredPrompt(t *testing.T) {
	o := &Orchestrator{}
	provider := &fakeProvider{text: "ai text"}
	clients := &tenantClients{provider: provider, reportPrompt: "custom prompt", aiProviderName: "openai"}
	cfg := model.DefaultRuntimeConfig(1, "UTC")
	ws, we := testWindow()
	records := []supabase.DealRecord{record(1, "Busy deal", "Won", 5)}

	text, meta := o.generateReport(context.Background(), model.ModeCRMAndMessaging, cfg, clients, records, ws, we)
	assert.Equal(t, "ai text", text)
	assert.Equal(t, "custom prompt", provider.prompt)
	assert.Equal(t, false, meta["ai_fallback"])
}

func TestGenerateReport_DefaultPromptWhenUnconfigured(t *testing.T) {
	o := &Orchestrator{}
	provider := &fakeProvider{text: "ai text"}
	clients := &tenantClients{provider: provider, aiProviderName: "openai"}
	cfg := model.DefaultRuntimeConfig(1, "UTC")
	ws, we := testWindow()
	records := []supabase.DealRecord{record(1, "Busy deal", "Won", 5)}

	_, _ = o.generateReport(context.Background(), model.ModeCRMAndMessaging, cfg, clients, records, ws, we)
	assert.Equal(t, reportSystemPrompt, provider.prompt)
}

func TestGenerateReport_MetadataCarriesSummaryAndProvenance(t *testing.T) {
	o := &Orchestrator{}
	provider := &fakeProvider{text: "ai text"}
	clients := &tenantClients{provider: provider, aiProviderName: "openai", aiModelName: "gpt-4o-mini"}
	cfg := model.DefaultRuntimeConfig(1, "UTC")
	ws, we := testWindow()
	records := []supabase.DealRecord{
		record(1, "Busy deal", "Won", 5),
		record(2, "Silent deal", "New", 0),
	}

	_, meta := o.generateReport(context.Background(), model.ModeCRMAndMessaging, cfg, clients, records, ws, we)
	assert.Equal(t, 2, meta["deals"])
	assert.Equal(t, 1, meta["deals_with_dialogs"])
	assert.Equal(t, 5, meta["messages_total"])
	assert.Equal(t, "New: 1, Won: 1", meta["statuses"])
	assert.Equal(t, "unassigned: 2", meta["responsibles"])
	assert.Equal(t, "openai", meta["ai_provider"])
	assert.Equal(t, "gpt-4o-mini", meta["ai_model"])
	assert.Equal(t, false, meta["ai_fallback"])
}

func TestGenerateReport_FallbackOnProviderError(t *testing.T) {
	o := &Orchestrator{}
	provider := &fakeProvider{err: eris.New("quota exhausted")}
	clients := &tenantClients{provider: provider, aiProviderName: "openai"}
	cfg := model.DefaultRuntimeConfig(1, "UTC")
	ws, we := testWindow()
	records := []supabase.DealRecord{record(1, "Busy deal", "Won", 5)}

	text, meta := o.generateReport(context.Background(), model.ModeCRMAndMessaging, cfg, clients, records, ws, we)
	assert.True(t, strings.HasPrefix(text, fallbackMarker))
	assert.Equal(t, true, meta["ai_fallback"])
	assert.Contains(t, meta["ai_error"], "quota exhausted")
	assert.Equal(t, 1, meta["deals"], "summary stats survive the fallback")
}

func TestGenerateReport_SkipsAIBelowDialogThreshold(t *testing.T) {
	o := &Orchestrator{}
	provider := &fakeProvider{text: "ai text"}
	clients := &tenantClients{provider: provider, aiProviderName: "openai"}
	cfg := model.DefaultRuntimeConfig(1, "UTC")
	cfg.MinDialogsForReport = 3
	ws, we := testWindow()
	records := []supabase.DealRecord{record(1, "Busy deal", "Won", 5)}

	text, meta := o.generateReport(context.Background(), model.ModeCRMAndMessaging, cfg, clients, records, ws, we)
	assert.True(t, strings.HasPrefix(text, fallbackMarker))
	assert.Equal(t, true, meta["ai_fallback"])
	assert.Equal(t, "not_enough_dialogs", meta["ai_skipped"])
	assert.Empty(t, provider.prompt, "the provider is never called")
}

func TestExecuteJob_FailureIsAudited(t *testing.T) {
	jobID := uuid.New()
	st := &stubStore{job: &model.JobRun{
		ID:       jobID,
		TenantID: 7,
		Status:   model.JobPending,
		Mode:     model.ModeCRMOnly,
	}}
	o := New(st, audit.NewSink(st), nil, nil)

	err := o.ExecuteJob(context.Background(), jobID)
	require.Error(t, err)
	assert.Equal(t, model.JobFailed, st.completed)
	require.Len(t, st.audits, 1)
	assert.Equal(t, "report_job_failed", st.audits[0].Action)
	assert.Equal(t, jobID.String(), st.audits[0].Metadata["job_id"])
	assert.Contains(t, st.events, "Failed")
}

func TestSaveReport_PushFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rc := request.New(request.WithRetry(resilience.RetryConfig{
		MaxAttempts: 2,
		BackoffStep: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}))
	storage, err := supabase.NewClient(supabase.Config{URL: srv.URL, ServiceKey: "key"}, rc)
	require.NoError(t, err)

	st := &stubStore{tenant: &model.Tenant{ID: 7, Slug: "acme", Name: "Acme"}}
	o := New(st, audit.NewSink(st), nil, rc)

	ws, we := testWindow()
	job := &model.JobRun{ID: uuid.New(), TenantID: 7, Trigger: model.TriggerManual}
	cfg := model.DefaultRuntimeConfig(7, "UTC")

	report, err := o.saveReport(context.Background(), job, cfg, &tenantClients{storage: storage},
		"report text", ws, we, map[string]any{"ai_fallback": false})
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.NotEqual(t, uuid.Nil, report.ID, "the report is persisted locally")
	assert.Contains(t, st.events, "Report push failed")
}
