package pipeline

import (
	"context"
	"strconv"

	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/pkg/ai"
	"github.com/synkro/synkro/pkg/amocrm"
	"github.com/synkro/synkro/pkg/radist"
	"github.com/synkro/synkro/pkg/supabase"
	"github.com/synkro/synkro/pkg/telegram"
)

// tenantClients holds the per-run connector set built from the tenant's
// integrations. Optional members are nil.
type tenantClients struct {
	storage   *supabase.Client
	crm       *amocrm.Client
	messaging *radist.Client
	provider  ai.Provider
	bot       *telegram.Client

	// Prompt overrides and provenance from the AI integration's public
	// config. Empty prompts fall back to the built-in defaults.
	reportPrompt   string
	followupPrompt string
	aiProviderName string
	aiModelName    string
}

func secretString(secret map[string]any, key string) string {
	s, _ := secret[key].(string)
	return s
}

func anyInt64(value any) int64 {
	switch v := value.(type) {
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

func (o *Orchestrator) storageClient(integs map[model.IntegrationKind]model.IntegrationConfig) (*supabase.Client, error) {
	sb, ok := integs[model.IntegrationSupabase]
	if !ok {
		return nil, configErrorf("supabase integration is not configured")
	}
	secret := o.box.DecryptPayload(sb.SecretEncrypted)
	client, err := supabase.NewClient(supabase.Config{
		URL:        sb.PublicString("url"),
		ServiceKey: secretString(secret, "service_key"),
	}, o.rc)
	if err != nil {
		return nil, configErrorf("supabase integration is incomplete: url or service key is missing")
	}
	return client, nil
}

// attachAI builds the provider and carries over the tenant's prompt
// overrides and provider/model provenance.
func (o *Orchestrator) attachAI(clients *tenantClients, integs map[model.IntegrationKind]model.IntegrationConfig) error {
	aiCfg, ok := integs[model.IntegrationAI]
	if !ok {
		return configErrorf("ai integration is not configured")
	}
	secret := o.box.DecryptPayload(aiCfg.SecretEncrypted)
	provider, err := ai.NewProvider(ai.Config{
		Provider: aiCfg.PublicString("provider"),
		APIKey:   secretString(secret, "api_key"),
		Model:    aiCfg.PublicString("model"),
		BaseURL:  aiCfg.PublicString("base_url"),
	}, o.rc)
	if err != nil {
		return configErrorf("ai integration is incomplete: %v", err)
	}
	clients.provider = provider
	clients.reportPrompt = aiCfg.PublicString("prompt")
	clients.followupPrompt = aiCfg.PublicString("followup_prompt")
	clients.aiProviderName = aiCfg.PublicString("provider")
	if clients.aiProviderName == "" {
		clients.aiProviderName = "openai"
	}
	clients.aiModelName = aiCfg.PublicString("model")
	return nil
}

// followupClients builds just the storage and AI clients the follow-up
// answer path needs.
func (o *Orchestrator) followupClients(ctx context.Context, tenantID int64) (*tenantClients, error) {
	integs, err := o.store.ListIntegrations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	clients := &tenantClients{}
	clients.storage, err = o.storageClient(integs)
	if err != nil {
		return nil, err
	}
	if err := o.attachAI(clients, integs); err != nil {
		return nil, err
	}
	return clients, nil
}

// buildClients decrypts and validates the integrations a run needs. Storage
// and AI are mandatory for every mode; CRM and messaging follow the mode;
// the bot is attached when configured.
func (o *Orchestrator) buildClients(ctx context.Context, tenantID int64, mode model.SyncMode) (*tenantClients, error) {
	integs, err := o.store.ListIntegrations(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	clients := &tenantClients{}
	clients.storage, err = o.storageClient(integs)
	if err != nil {
		return nil, err
	}
	if err := o.attachAI(clients, integs); err != nil {
		return nil, err
	}

	if mode.UsesCRM() {
		crm, ok := integs[model.IntegrationAmoCRM]
		if !ok {
			return nil, configErrorf("amocrm integration is not configured for mode %s", mode)
		}
		crmSecret := o.box.DecryptPayload(crm.SecretEncrypted)
		clients.crm, err = amocrm.NewClient(amocrm.Config{
			Domain:      crm.PublicString("domain"),
			AccessToken: secretString(crmSecret, "access_token"),
		}, o.rc)
		if err != nil {
			return nil, configErrorf("amocrm integration is incomplete: domain or access token is missing")
		}
	}

	if mode.UsesMessaging() {
		msg, ok := integs[model.IntegrationRadist]
		if !ok {
			return nil, configErrorf("radist integration is not configured for mode %s", mode)
		}
		msgSecret := o.box.DecryptPayload(msg.SecretEncrypted)
		clients.messaging, err = radist.NewClient(radist.Config{
			APIKey:    secretString(msgSecret, "api_key"),
			CompanyID: anyInt64(msg.Public["company_id"]),
			BaseURL:   msg.PublicString("base_url"),
		}, o.rc)
		if err != nil {
			return nil, configErrorf("radist integration is incomplete: api key or company id is missing")
		}
	}

	if tg, ok := integs[model.IntegrationTelegram]; ok {
		tgSecret := o.box.DecryptPayload(tg.SecretEncrypted)
		bot, err := telegram.NewClient(telegram.Config{
			BotToken: secretString(tgSecret, "bot_token"),
			ChatID:   anyInt64(tg.Public["chat_id"]),
			BaseURL:  tg.PublicString("base_url"),
		}, o.rc)
		if err == nil {
			clients.bot = bot
		}
	}

	return clients, nil
}
