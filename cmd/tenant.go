package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/synkro/synkro/internal/model"
)

var (
	tenantName     string
	tenantSlug     string
	tenantTimezone string

	integTenant  string
	integKind    string
	integPublic  []string
	integSecret  []string
	modeTenant   string
	modeValue    string
	statusTenant string
	statusValue  string
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants and their integrations",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tenant with the default runtime config",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tenant, err := env.Store.CreateTenant(ctx, tenantName, tenantSlug, tenantTimezone)
		if err != nil {
			return err
		}
		env.Audit.Record(ctx, &tenant.ID, "cli", "tenant_created", "tenant created",
			map[string]any{"slug": tenant.Slug})
		fmt.Printf("Tenant %s created (id %d)\n", tenant.Slug, tenant.ID)
		return nil
	},
}

var tenantSetModeCmd = &cobra.Command{
	Use:   "set-mode",
	Short: "Change a tenant's sync mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mode := model.SyncMode(modeValue)
		if !mode.Valid() {
			return eris.Errorf("invalid mode %q: use crm_and_messaging, messaging_only, or crm_only", modeValue)
		}
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tenant, err := env.Store.GetTenantBySlug(ctx, modeTenant)
		if err != nil {
			return err
		}
		rc, err := env.Store.GetRuntimeConfig(ctx, tenant.ID)
		if err != nil {
			return err
		}
		rc.Mode = mode
		if err := env.Store.UpdateRuntimeConfig(ctx, *rc); err != nil {
			return err
		}
		env.Audit.Record(ctx, &tenant.ID, "cli", "tenant_mode_changed", "sync mode changed",
			map[string]any{"mode": string(mode)})
		fmt.Printf("Tenant %s mode set to %s\n", modeTenant, mode)
		return nil
	},
}

var tenantSetStatusCmd = &cobra.Command{
	Use:   "set-status",
	Short: "Activate, pause, or disable a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		status := model.TenantStatus(statusValue)
		switch status {
		case model.TenantActive, model.TenantPaused, model.TenantDisabled:
		default:
			return eris.Errorf("invalid status %q: use active, paused, or disabled", statusValue)
		}
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.SetTenantStatus(ctx, statusTenant, status); err != nil {
			return err
		}
		fmt.Printf("Tenant %s status set to %s\n", statusTenant, status)
		return nil
	},
}

var tenantSetIntegrationCmd = &cobra.Command{
	Use:   "set-integration",
	Short: "Create or replace one tenant integration",
	Long: "Public values are stored as-is; secret values are encrypted at rest.\n" +
		"Example: tenant set-integration --tenant acme --kind amocrm --public domain=acme.amocrm.ru --secret access_token=...",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		kind := model.IntegrationKind(integKind)
		switch kind {
		case model.IntegrationSupabase, model.IntegrationAmoCRM, model.IntegrationRadist,
			model.IntegrationAI, model.IntegrationTelegram:
		default:
			return eris.Errorf("invalid integration kind %q", integKind)
		}

		public, err := parsePairs(integPublic)
		if err != nil {
			return err
		}
		secret, err := parsePairs(integSecret)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tenant, err := env.Store.GetTenantBySlug(ctx, integTenant)
		if err != nil {
			return err
		}
		encrypted, err := env.Box.EncryptPayload(secret)
		if err != nil {
			return err
		}
		if err := env.Store.UpsertIntegration(ctx, model.IntegrationConfig{
			TenantID:        tenant.ID,
			Kind:            kind,
			Public:          public,
			SecretEncrypted: encrypted,
		}); err != nil {
			return err
		}
		env.Audit.Record(ctx, &tenant.ID, "cli", "integration_updated", "integration updated",
			map[string]any{"kind": string(kind)})
		fmt.Printf("Integration %s saved for tenant %s\n", kind, integTenant)
		return nil
	},
}

// parsePairs turns k=v arguments into a config map, coercing integer values
// so numeric ids round-trip as numbers.
func parsePairs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, eris.Errorf("invalid key=value pair: %q", pair)
		}
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			out[key] = n
			continue
		}
		out[key] = value
	}
	return out, nil
}

func init() {
	tenantCreateCmd.Flags().StringVar(&tenantName, "name", "", "tenant display name (required)")
	tenantCreateCmd.Flags().StringVar(&tenantSlug, "slug", "", "tenant slug (required)")
	tenantCreateCmd.Flags().StringVar(&tenantTimezone, "timezone", "UTC", "IANA timezone")
	tenantCreateCmd.MarkFlagRequired("name")
	tenantCreateCmd.MarkFlagRequired("slug")

	tenantSetModeCmd.Flags().StringVar(&modeTenant, "tenant", "", "tenant slug (required)")
	tenantSetModeCmd.Flags().StringVar(&modeValue, "mode", "", "sync mode (required)")
	tenantSetModeCmd.MarkFlagRequired("tenant")
	tenantSetModeCmd.MarkFlagRequired("mode")

	tenantSetStatusCmd.Flags().StringVar(&statusTenant, "tenant", "", "tenant slug (required)")
	tenantSetStatusCmd.Flags().StringVar(&statusValue, "status", "", "tenant status (required)")
	tenantSetStatusCmd.MarkFlagRequired("tenant")
	tenantSetStatusCmd.MarkFlagRequired("status")

	tenantSetIntegrationCmd.Flags().StringVar(&integTenant, "tenant", "", "tenant slug (required)")
	tenantSetIntegrationCmd.Flags().StringVar(&integKind, "kind", "", "integration kind (required)")
	tenantSetIntegrationCmd.Flags().StringArrayVar(&integPublic, "public", nil, "public key=value (repeatable)")
	tenantSetIntegrationCmd.Flags().StringArrayVar(&integSecret, "secret", nil, "secret key=value (repeatable)")
	tenantSetIntegrationCmd.MarkFlagRequired("tenant")
	tenantSetIntegrationCmd.MarkFlagRequired("kind")

	tenantCmd.AddCommand(tenantCreateCmd, tenantSetModeCmd, tenantSetStatusCmd, tenantSetIntegrationCmd)
	rootCmd.AddCommand(tenantCmd)
}
