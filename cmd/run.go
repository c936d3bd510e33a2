package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/pipeline"
)

var (
	runTenant string
	runFrom   string
	runTo     string
	runActor  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Queue and execute a report job for one tenant, synchronously",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		params := pipeline.QueueParams{
			TenantSlug:  runTenant,
			Trigger:     model.TriggerManual,
			RequestedBy: runActor,
		}
		if runFrom != "" || runTo != "" {
			from, err1 := time.Parse(time.RFC3339, runFrom)
			to, err2 := time.Parse(time.RFC3339, runTo)
			if err1 != nil || err2 != nil {
				return eris.New("--from and --to must both be RFC3339 timestamps")
			}
			params.WindowStart = &from
			params.WindowEnd = &to
		}

		run, created, err := env.Orch.QueueJob(ctx, params)
		if err != nil {
			return err
		}
		if !created {
			fmt.Printf("Job %s already exists for this window (status %s)\n", run.ID, run.Status)
			if run.Status.Terminal() {
				return nil
			}
		}

		zap.L().Info("executing job", zap.String("job_id", run.ID.String()))
		if err := env.Orch.ExecuteJob(ctx, run.ID); err != nil {
			return err
		}

		final, err := env.Store.GetJobRun(ctx, run.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Job %s finished: %s", final.ID, final.Status)
		if final.Error != "" {
			fmt.Printf(" (%s)", final.Error)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runTenant, "tenant", "", "tenant slug (required)")
	runCmd.Flags().StringVar(&runFrom, "from", "", "window start (RFC3339); default is the last closed business day")
	runCmd.Flags().StringVar(&runTo, "to", "", "window end (RFC3339)")
	runCmd.Flags().StringVar(&runActor, "actor", "cli", "who requested the run")
	runCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(runCmd)
}
