// Package followup polls each tenant's chat for questions about the latest
// report and answers them through the AI provider.
package followup

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/synkro/synkro/internal/crypto"
	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/pipeline"
	"github.com/synkro/synkro/internal/request"
	"github.com/synkro/synkro/internal/store"
	"github.com/synkro/synkro/pkg/telegram"
)

const (
	// offsetKey is where the poller keeps its position inside the telegram
	// integration's public config.
	offsetKey = "telegram_update_offset"

	// firstRunTail bounds how much backlog a fresh poller will consider.
	firstRunTail = 20

	// firstRunMaxAge drops stale backlog on the first poll so the bot does
	// not answer hours-old questions out of nowhere.
	firstRunMaxAge = time.Hour

	maxTenantConcurrency = 8
)

var mentionPattern = regexp.MustCompile(`@[A-Za-z0-9_]{2,64}`)

const (
	replyEmptyQuestion = "Please add your question after the mention."
	replyNoReport      = "There is no report yet. Ask again after the next report is generated."
)

// Poller drives follow-up Q&A across all active tenants.
type Poller struct {
	store    store.Store
	orch     *pipeline.Orchestrator
	box      *crypto.Box
	rc       *request.Client
	interval time.Duration
}

// NewPoller creates a poller ticking at the given interval.
func NewPoller(s store.Store, orch *pipeline.Orchestrator, box *crypto.Box, rc *request.Client, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{store: s, orch: orch, box: box, rc: rc, interval: interval}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.PollOnce(ctx); err != nil {
			zap.L().Error("follow-up poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce runs one polling pass over all active tenants. Per-tenant
// failures are logged and do not abort the other tenants.
func (p *Poller) PollOnce(ctx context.Context) error {
	tenants, err := p.store.ListActiveTenants(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxTenantConcurrency)
	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			if err := p.pollTenant(gctx, tenant); err != nil {
				zap.L().Error("tenant follow-up poll failed",
					zap.String("tenant", tenant.Slug), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) pollTenant(ctx context.Context, tenant model.Tenant) error {
	integ, err := p.store.GetIntegration(ctx, tenant.ID, model.IntegrationTelegram)
	if err != nil {
		return err
	}
	if integ == nil {
		return nil
	}
	// Without an AI integration no question can be answered. Skip without
	// fetching so the offset stays put and the questions are not lost.
	aiInteg, err := p.store.GetIntegration(ctx, tenant.ID, model.IntegrationAI)
	if err != nil {
		return err
	}
	if aiInteg == nil {
		return nil
	}
	secret := p.box.DecryptPayload(integ.SecretEncrypted)
	botToken, _ := secret["bot_token"].(string)
	bot, err := telegram.NewClient(telegram.Config{
		BotToken: botToken,
		ChatID:   publicInt64(integ.Public, "chat_id"),
		BaseURL:  integ.PublicString("base_url"),
	}, p.rc)
	if err != nil {
		return nil
	}

	offset := publicInt64(integ.Public, offsetKey)
	var offsetPtr *int64
	firstRun := offset == 0
	if !firstRun {
		offsetPtr = &offset
	}

	updates, err := bot.GetUpdates(ctx, offsetPtr)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	if firstRun && len(updates) > firstRunTail {
		updates = updates[len(updates)-firstRunTail:]
	}

	// The offset always advances past every fetched update, including ones
	// that failed to process, so one poison update cannot wedge the poller.
	maxID := int64(0)
	for _, u := range updates {
		if u.UpdateID > maxID {
			maxID = u.UpdateID
		}
		p.handleUpdate(ctx, tenant, bot, u, firstRun)
	}
	return p.saveOffset(ctx, tenant.ID, integ, maxID+1)
}

func (p *Poller) handleUpdate(ctx context.Context, tenant model.Tenant, bot *telegram.Client, u telegram.Update, firstRun bool) {
	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil || msg.From.IsBot || msg.Chat.ID != bot.ChatID() {
		return
	}
	if firstRun && time.Since(time.Unix(msg.Date, 0)) > firstRunMaxAge {
		return
	}

	question, mentioned := extractQuestion(msg)
	if !mentioned {
		return
	}
	logger := zap.L().With(
		zap.String("tenant", tenant.Slug),
		zap.Int64("update_id", u.UpdateID))

	if question == "" {
		p.reply(ctx, bot, replyEmptyQuestion, logger)
		return
	}

	report, answer, err := p.orch.BuildFollowupAnswer(ctx, &tenant, question)
	if err != nil {
		if err == pipeline.ErrNoReport {
			p.reply(ctx, bot, replyNoReport, logger)
			return
		}
		answer = "AI follow-up error: " + err.Error()
		p.reply(ctx, bot, answer, logger)
		// Error replies go into the history too, when a report exists to
		// attach them to.
		if report == nil {
			return
		}
	} else {
		p.reply(ctx, bot, answer, logger)
	}

	if err := p.store.InsertReportMessage(ctx, model.ReportMessage{
		ReportID: report.ID,
		Actor:    msg.From.Username,
		Question: fmt.Sprintf("[telegram update %d] %s", u.UpdateID, question),
		Answer:   answer,
	}); err != nil {
		logger.Warn("follow-up message persist failed", zap.Error(err))
	}
}

func (p *Poller) reply(ctx context.Context, bot *telegram.Client, text string, logger *zap.Logger) {
	if err := bot.SendMessage(ctx, text); err != nil {
		logger.Warn("follow-up reply failed", zap.Error(err))
	}
}

func (p *Poller) saveOffset(ctx context.Context, tenantID int64, integ *model.IntegrationConfig, next int64) error {
	public := make(map[string]any, len(integ.Public)+1)
	for k, v := range integ.Public {
		public[k] = v
	}
	public[offsetKey] = next
	return p.store.UpdateIntegrationPublic(ctx, tenantID, model.IntegrationTelegram, public)
}

// extractQuestion returns the message text with mentions stripped and
// whether the message contained a mention at all. Only mentioning messages
// are treated as questions for the bot. Punctuation left dangling after the
// mention ("@bot, how...") is dropped.
func extractQuestion(msg *telegram.Message) (string, bool) {
	mentioned := false
	for _, e := range msg.Entities {
		if e.Type == "mention" {
			mentioned = true
			break
		}
	}
	if !mentioned && !mentionPattern.MatchString(msg.Text) {
		return "", false
	}
	question := mentionPattern.ReplaceAllString(msg.Text, " ")
	question = strings.Join(strings.Fields(question), " ")
	return strings.TrimSpace(strings.TrimLeft(question, " ,;:-")), true
}

func publicInt64(public map[string]any, key string) int64 {
	switch v := public[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}
