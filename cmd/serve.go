package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/pipeline"
	"github.com/synkro/synkro/internal/schedule"
	"github.com/synkro/synkro/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, scheduler, and follow-up poller",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.Migrate(ctx); err != nil {
			return err
		}

		go runScheduler(ctx, env)
		go func() {
			if err := env.Poller.Run(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("follow-up poller exited", zap.Error(err))
			}
		}()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.NewHandler(server.Deps{Store: env.Store, Orch: env.Orch}),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// runScheduler queues each tenant's scheduled run when its local run time
// comes due. The tick stays below the due window so runs are not missed,
// and the idempotency key makes double ticks harmless.
func runScheduler(ctx context.Context, env *appEnv) {
	tick := time.Duration(cfg.Scheduler.TickSecs) * time.Second
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tenants, err := env.Store.ListActiveTenants(ctx)
		if err != nil {
			zap.L().Error("scheduler tenant list failed", zap.Error(err))
			continue
		}
		now := time.Now().UTC()
		for _, tenant := range tenants {
			rc, err := env.Store.GetRuntimeConfig(ctx, tenant.ID)
			if err != nil {
				zap.L().Error("scheduler config load failed",
					zap.String("tenant", tenant.Slug), zap.Error(err))
				continue
			}
			if !schedule.IsDue(*rc, now) {
				continue
			}
			run, created, err := env.Orch.QueueJob(ctx, pipeline.QueueParams{
				TenantSlug:  tenant.Slug,
				Trigger:     model.TriggerScheduled,
				RequestedBy: "scheduler",
			})
			if err != nil {
				zap.L().Error("scheduled queue failed",
					zap.String("tenant", tenant.Slug), zap.Error(err))
				continue
			}
			if created {
				zap.L().Info("scheduled run queued",
					zap.String("tenant", tenant.Slug),
					zap.String("job_id", run.ID.String()))
				env.Orch.Dispatch(run)
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
