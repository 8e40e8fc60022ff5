package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/spf13/cobra"
	"gorm.io/datatypes"

	"payorch/internal/adapters"
	"payorch/internal/infra"
	"payorch/internal/models/db_models"
	"payorch/internal/models/response_models"
	"payorch/internal/services"
	"payorch/pkg/utils"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			if err := infra.Migrate(rt.db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("schema is up to date")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Archive and delete expired payment events, purge expired idempotency keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			archive, err := rt.eventArchive(ctx)
			if err != nil {
				return err
			}
			svc := services.NewMaintenanceService(rt.events, rt.inbox, archive, rt.idem, rt.clock, services.MaintenanceOptions{
				EventRetention: rt.cfg.EventRetention,
			}, rt.log)
			summary, err := svc.Sweep(ctx)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and drive reconciliation polling jobs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List polling jobs of a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			rt, err := newDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			jobs, err := rt.pollingWorker().ListJobs(cmd.Context(), tenant, db_models.PollingJobStatus(status), limit)
			if err != nil {
				return err
			}
			out := make([]response_models.PollingJobResponse, 0, len(jobs))
			for i := range jobs {
				out = append(out, services.ToPollingJobResponse(&jobs[i]))
			}
			return printJSON(out)
		},
	}
	list.Flags().String("tenant", "", "Tenant ID")
	list.Flags().String("status", "", "pending, completed, failed or expired")
	list.Flags().IntP("limit", "n", 50, "Maximum jobs")
	_ = list.MarkFlagRequired("tenant")

	tick := &cobra.Command{
		Use:   "tick",
		Short: "Poll every due job once",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			summary, err := rt.pollingWorker().Tick(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}

	cmd.AddCommand(list, tick)
	return cmd
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect or invalidate idempotency keys",
	}

	scopeOf := func(cmd *cobra.Command) (string, string) {
		key, _ := cmd.Flags().GetString("key")
		scope, _ := cmd.Flags().GetString("scope")
		tenant, _ := cmd.Flags().GetString("tenant")
		return key, services.TenantScope(scope, tenant)
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Show the stored state of an idempotency key",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			key, scope := scopeOf(cmd)
			res, err := rt.idem.CheckKey(cmd.Context(), key, scope)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	invalidate := &cobra.Command{
		Use:   "invalidate",
		Short: "Delete an idempotency key so the next request runs again",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			key, scope := scopeOf(cmd)
			deleted, err := rt.idem.InvalidateKey(cmd.Context(), key, scope)
			if err != nil {
				return err
			}
			if !deleted {
				return utils.ErrIdempotencyKeyNotFound
			}
			fmt.Printf("invalidated %s (%s)\n", key, scope)
			return nil
		},
	}

	for _, c := range []*cobra.Command{check, invalidate} {
		c.Flags().String("key", "", "Idempotency key")
		c.Flags().String("scope", services.ScopeCreatePayment, "Operation scope")
		c.Flags().String("tenant", "", "Tenant ID")
		_ = c.MarkFlagRequired("key")
		_ = c.MarkFlagRequired("tenant")
	}

	cmd.AddCommand(check, invalidate)
	return cmd
}

func providersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage tenant provider configuration",
		Long: `Manage tenant provider configuration.

Changes are written to the database. Running servers keep resolved providers
cached for RESOLVER_CACHE_TTL (default 1m), so a disabled provider or rotated
credential takes effect on the server within that window.`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show every registered adapter and the tenant's configuration for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			env, _ := cmd.Flags().GetString("env")

			rt, err := newDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())
			if env == "" {
				env = rt.cfg.PaymentEnvironment
			}

			configs, err := rt.configs.ListProviderConfigs(cmd.Context(), tenant, env)
			if err != nil {
				return err
			}
			return printJSON(providerRows(rt.registry, configs))
		},
	}
	list.Flags().String("tenant", "", "Tenant ID")
	list.Flags().String("env", "", "Environment (defaults to PAYMENT_ENVIRONMENT)")
	_ = list.MarkFlagRequired("tenant")

	set := &cobra.Command{
		Use:   "set",
		Short: "Create or update a tenant's provider configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			provider, _ := cmd.Flags().GetString("provider")
			env, _ := cmd.Flags().GetString("env")
			priority, _ := cmd.Flags().GetInt("priority")
			enabled, _ := cmd.Flags().GetBool("enabled")
			creds, _ := cmd.Flags().GetStringToString("cred")

			provider = adapters.NormalizeProvider(provider)
			if _, ok := adapters.DefaultRegistry().Lookup(provider); !ok {
				return fmt.Errorf("%w: %s", adapters.ErrUnsupportedProvider, provider)
			}
			raw, err := json.Marshal(creds)
			if err != nil {
				return err
			}

			rt, err := newDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())
			if env == "" {
				env = rt.cfg.PaymentEnvironment
			}

			if err := rt.configs.UpsertProviderConfig(cmd.Context(), &db_models.ProviderConfig{
				TenantID:    tenant,
				Provider:    provider,
				Environment: env,
				Enabled:     enabled,
				Priority:    priority,
				Credentials: datatypes.JSON(raw),
			}); err != nil {
				return err
			}
			fmt.Printf("%s configured for tenant %s (%s)\n", provider, tenant, env)
			return nil
		},
	}
	set.Flags().String("tenant", "", "Tenant ID")
	set.Flags().String("provider", "", "Provider name")
	set.Flags().String("env", "", "Environment (defaults to PAYMENT_ENVIRONMENT)")
	set.Flags().Int("priority", 100, "Fallback priority, lower first")
	set.Flags().Bool("enabled", true, "Enable the provider")
	set.Flags().StringToString("cred", nil, "Credential field, repeatable: --cred key_id=... --cred key_secret=...")
	_ = set.MarkFlagRequired("tenant")
	_ = set.MarkFlagRequired("provider")

	route := &cobra.Command{
		Use:   "route",
		Short: "Set a tenant's explicit provider fallback order",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			env, _ := cmd.Flags().GetString("env")
			order, _ := cmd.Flags().GetStringSlice("order")

			normalized := make(pq.StringArray, 0, len(order))
			for _, name := range order {
				if name = adapters.NormalizeProvider(name); name != "" {
					normalized = append(normalized, name)
				}
			}

			rt, err := newDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())
			if env == "" {
				env = rt.cfg.PaymentEnvironment
			}

			if err := rt.configs.UpsertTenantRouting(cmd.Context(), &db_models.TenantRouting{
				TenantID:      tenant,
				Environment:   env,
				ProviderOrder: normalized,
			}); err != nil {
				return err
			}
			fmt.Printf("tenant %s (%s) routes %s\n", tenant, env, strings.Join(normalized, " > "))
			return nil
		},
	}
	route.Flags().String("tenant", "", "Tenant ID")
	route.Flags().String("env", "", "Environment (defaults to PAYMENT_ENVIRONMENT)")
	route.Flags().StringSlice("order", nil, "Providers in fallback order, comma separated")
	_ = route.MarkFlagRequired("tenant")
	_ = route.MarkFlagRequired("order")

	cmd.AddCommand(list, set, route)
	return cmd
}

type providerRow struct {
	Provider   string   `json:"provider"`
	Configured bool     `json:"configured"`
	Enabled    bool     `json:"enabled"`
	Priority   int      `json:"priority,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

func providerRows(registry *adapters.Registry, configs []db_models.ProviderConfig) []providerRow {
	byName := make(map[string]db_models.ProviderConfig, len(configs))
	for _, c := range configs {
		byName[c.Provider] = c
	}
	rows := make([]providerRow, 0, len(byName))
	for _, name := range registry.Names() {
		row := providerRow{Provider: name}
		if c, ok := byName[name]; ok {
			row.Configured, row.Enabled, row.Priority = true, c.Enabled, c.Priority
			reg, _ := registry.Lookup(name)
			row.Missing = reg.MissingFields(c.CredentialMap())
		}
		rows = append(rows, row)
	}
	return rows
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a tenant bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			role, _ := cmd.Flags().GetString("role")

			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			token, err := utils.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL).CreateToken(tenant, role)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Tenant ID")
	cmd.Flags().String("role", "merchant", "Role claim (admin may invalidate idempotency keys)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
