package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/synkro/synkro/internal/store"
)

var (
	jobsTenant string
	jobsLimit  int
	stopActor  string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control report jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tenant, err := env.Store.GetTenantBySlug(ctx, jobsTenant)
		if err != nil {
			return err
		}
		runs, err := env.Store.ListJobRuns(ctx, store.JobFilter{TenantID: tenant.ID, Limit: jobsLimit})
		if err != nil {
			return err
		}
		for _, run := range runs {
			window := ""
			if run.WindowStart != nil && run.WindowEnd != nil {
				window = fmt.Sprintf(" [%s .. %s]",
					run.WindowStart.Format("2006-01-02 15:04"),
					run.WindowEnd.Format("2006-01-02 15:04"))
			}
			fmt.Printf("%s  %-9s %3d%%  %s%s\n", run.ID, run.Status, run.Progress, run.Trigger, window)
		}
		return nil
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job with its event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := uuid.Parse(args[0])
		if err != nil {
			return err
		}
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Store.GetJobRun(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Job %s\n  status:   %s\n  step:     %s (%d%%)\n  trigger:  %s\n",
			job.ID, job.Status, job.CurrentStep, job.Progress, job.Trigger)
		if job.Error != "" {
			fmt.Printf("  error:    %s\n", job.Error)
		}

		events, err := env.Store.ListJobEvents(ctx, id)
		if err != nil {
			return err
		}
		fmt.Println("Events:")
		for _, e := range events {
			fmt.Printf("  %s  %-5s %s\n", e.CreatedAt.Format("15:04:05"), e.Level, e.Message)
		}
		return nil
	},
}

var jobsStopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Stop a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := uuid.Parse(args[0])
		if err != nil {
			return err
		}
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orch.Stop(ctx, id, stopActor); err != nil {
			return err
		}
		fmt.Printf("Job %s stopped\n", id)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsTenant, "tenant", "", "tenant slug (required)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to list")
	jobsListCmd.MarkFlagRequired("tenant")
	jobsStopCmd.Flags().StringVar(&stopActor, "actor", "cli", "who stopped the job")

	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsStopCmd)
	rootCmd.AddCommand(jobsCmd)
}
