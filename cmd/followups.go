package main

import (
	"github.com/spf13/cobra"
)

var followupsCmd = &cobra.Command{
	Use:   "followups",
	Short: "Follow-up question polling",
}

var followupsPollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one follow-up polling pass over all active tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Poller.PollOnce(ctx)
	},
}

func init() {
	followupsCmd.AddCommand(followupsPollCmd)
	rootCmd.AddCommand(followupsCmd)
}
