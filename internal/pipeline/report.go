package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/pkg/supabase"
)

const (
	contextDealLimit     = 15
	dialogPreviewRunes   = 350
	statusBreakdownLimit = 5
	historyLimit         = 6
)

const reportSystemPrompt = `You are a sales operations analyst. Using the deal and dialog data ` +
	`provided, write a concise daily report for the business owner: overall activity for the ` +
	`period, notable deals and conversations, stalled or at-risk deals, and concrete next ` +
	`steps. Write in plain prose, no markdown tables.`

const followupSystemPrompt = `You are a sales operations analyst answering a follow-up question ` +
	`about a previously delivered report. Ground every claim in the report and the deal data ` +
	`provided. If the data does not contain the answer, say so plainly.`

// fallbackMarker opens every statistical report so readers and tests can
// tell it apart from AI output.
const fallbackMarker = "Automatic statistical report (AI unavailable)."

// BuildReportContext renders the window's deal records into the text block
// handed to the AI provider.
func BuildReportContext(records []supabase.DealRecord, windowStart, windowEnd time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reporting period: %s to %s (UTC)\n",
		windowStart.UTC().Format("2006-01-02 15:04"), windowEnd.UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Deals in period: %d\n", len(records))

	if breakdown := statusBreakdown(records); breakdown != "" {
		b.WriteString("Status breakdown: " + breakdown + "\n")
	}
	b.WriteString("\n")

	for i, r := range records {
		if i >= contextDealLimit {
			fmt.Fprintf(&b, "... and %d more deals\n", len(records)-contextDealLimit)
			break
		}
		fmt.Fprintf(&b, "Deal %d: %s", r.DealID, r.DealName)
		if r.Status != "" {
			fmt.Fprintf(&b, " [%s]", r.Status)
		}
		if r.Responsible != "" {
			fmt.Fprintf(&b, " (responsible: %s)", r.Responsible)
		}
		fmt.Fprintf(&b, ", messages: %d\n", r.MessagesCount)
		if preview := truncateRunes(r.DialogNorm, dialogPreviewRunes); preview != "" {
			b.WriteString("Dialog: " + preview + "\n")
		}
		if r.Comment != "" {
			b.WriteString("Comment: " + r.Comment + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FallbackReport builds the statistical report used when AI generation is
// unavailable or the window holds too little dialog activity.
func FallbackReport(records []supabase.DealRecord, windowStart, windowEnd time.Time) string {
	withDialogs := 0
	totalMessages := 0
	for _, r := range records {
		if r.MessagesCount > 0 {
			withDialogs++
		}
		totalMessages += r.MessagesCount
	}

	var b strings.Builder
	b.WriteString(fallbackMarker + "\n\n")
	fmt.Fprintf(&b, "Period: %s to %s (UTC)\n",
		windowStart.UTC().Format("2006-01-02 15:04"), windowEnd.UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Deals: %d\n", len(records))
	fmt.Fprintf(&b, "Deals with dialogs: %d\n", withDialogs)
	fmt.Fprintf(&b, "Messages total: %d\n", totalMessages)
	if breakdown := statusBreakdown(records); breakdown != "" {
		b.WriteString("Statuses: " + breakdown + "\n")
	}
	if breakdown := responsibleBreakdown(records); breakdown != "" {
		b.WriteString("Responsible: " + breakdown + "\n")
	}

	active := make([]supabase.DealRecord, 0, len(records))
	for _, r := range records {
		if r.MessagesCount > 0 {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].MessagesCount > active[j].MessagesCount
	})
	if len(active) > 0 {
		b.WriteString("\nMost active deals:\n")
		for i, r := range active {
			if i >= statusBreakdownLimit {
				break
			}
			fmt.Fprintf(&b, "- %s: %d messages\n", r.DealName, r.MessagesCount)
		}
	}
	return b.String()
}

// statusBreakdown renders the top status counts as "status: n, status: n".
func statusBreakdown(records []supabase.DealRecord) string {
	values := make([]string, 0, len(records))
	for _, r := range records {
		values = append(values, r.Status)
	}
	return countBreakdown(values, "unknown")
}

// responsibleBreakdown renders the top responsible-party counts.
func responsibleBreakdown(records []supabase.DealRecord) string {
	values := make([]string, 0, len(records))
	for _, r := range records {
		values = append(values, r.Responsible)
	}
	return countBreakdown(values, "unassigned")
}

// countBreakdown counts values (empty ones under fallback) and renders the
// top entries, count descending and name ascending on ties.
func countBreakdown(values []string, fallback string) string {
	counts := make(map[string]int)
	for _, value := range values {
		if value == "" {
			value = fallback
		}
		counts[value]++
	}
	type nameCount struct {
		name  string
		count int
	}
	ordered := make([]nameCount, 0, len(counts))
	for name, count := range counts {
		ordered = append(ordered, nameCount{name, count})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].name < ordered[j].name
	})

	var parts []string
	for i, nc := range ordered {
		if i >= statusBreakdownLimit {
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %d", nc.name, nc.count))
	}
	return strings.Join(parts, ", ")
}

// reportSummary builds the statistics block stored in report metadata.
func reportSummary(records []supabase.DealRecord) map[string]any {
	withDialogs := 0
	totalMessages := 0
	for _, r := range records {
		if r.MessagesCount > 0 {
			withDialogs++
		}
		totalMessages += r.MessagesCount
	}
	return map[string]any{
		"deals":              len(records),
		"deals_with_dialogs": withDialogs,
		"messages_total":     totalMessages,
		"statuses":           statusBreakdown(records),
		"responsibles":       responsibleBreakdown(records),
	}
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// ErrNoReport means the tenant has no report to answer questions about.
var ErrNoReport = eris.New("no report available")

// BuildFollowupAnswer answers a question about the tenant's latest report.
// The AI context combines the report text, the window's deal records, and
// the recent Q&A history. The report is returned so the caller can attach
// the exchange to it.
func (o *Orchestrator) BuildFollowupAnswer(ctx context.Context, tenant *model.Tenant, question string) (*model.Report, string, error) {
	report, err := o.store.LatestReportForTenant(ctx, tenant.ID)
	if err != nil {
		return nil, "", err
	}
	if report == nil {
		return nil, "", ErrNoReport
	}
	cfg, err := o.store.GetRuntimeConfig(ctx, tenant.ID)
	if err != nil {
		return nil, "", err
	}
	clients, err := o.followupClients(ctx, tenant.ID)
	if err != nil {
		return nil, "", err
	}

	filterField := "last_message_at"
	minMessages := cfg.MinDialogsForReport
	if cfg.Mode == model.ModeCRMOnly {
		filterField = "updated_at"
		minMessages = 0
	}
	records, err := clients.storage.SelectDeals(ctx, supabase.DealQuery{
		TenantSlug:  tenant.Slug,
		FilterField: filterField,
		WindowStart: report.PeriodStart,
		WindowEnd:   report.PeriodEnd,
		Limit:       cfg.EffectiveFetchLimit(),
		MinMessages: minMessages,
	})
	if err != nil {
		// Answer from the report text alone rather than refusing outright.
		zap.L().Warn("follow-up deal load failed",
			zap.String("tenant", tenant.Slug), zap.Error(err))
		records = nil
	}
	history, err := o.store.ListRecentReportMessages(ctx, report.ID, historyLimit)
	if err != nil {
		zap.L().Warn("follow-up history load failed",
			zap.String("tenant", tenant.Slug), zap.Error(err))
		history = nil
	}

	prompt := clients.followupPrompt
	if prompt == "" {
		prompt = followupSystemPrompt
	}
	contextText := buildFollowupContext(report, records, history, question)
	answer, err := clients.provider.Generate(ctx, prompt, contextText)
	if err != nil {
		return report, "", err
	}
	return report, answer, nil
}

func buildFollowupContext(report *model.Report, records []supabase.DealRecord, history []model.ReportMessage, question string) string {
	var b strings.Builder
	b.WriteString("Report:\n" + report.SummaryText + "\n\n")
	if len(records) > 0 {
		b.WriteString("Deal data:\n")
		b.WriteString(BuildReportContext(records, report.PeriodStart, report.PeriodEnd))
		b.WriteString("\n")
	}
	if len(history) > 0 {
		b.WriteString("Previous questions and answers:\n")
		for _, msg := range history {
			b.WriteString("Q: " + msg.Question + "\n")
			b.WriteString("A: " + msg.Answer + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Question: " + question + "\n")
	return b.String()
}
