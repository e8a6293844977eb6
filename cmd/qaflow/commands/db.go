package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qaflow/jobs"
	"github.com/teranos/qaflow/logger"
)

// DbCmd groups database maintenance
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the job database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		pterm.Success.Printf("Database is up to date (%s)\n", databaseLabel(a.cfg.Database))
		return nil
	},
}

var dbSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired jobs and old finished tasks once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		removed := jobs.NewSweeper(a.store, 0, logger.ComponentLogger("sweeper")).SweepOnce(cmd.Context())
		tasks, err := a.queue.Cleanup(cmd.Context(), a.cfg.Jobs.TTL())
		if err != nil {
			return err
		}
		pterm.Success.Printf("Removed %d expired jobs and %d finished tasks\n", removed, tasks)
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbSweepCmd)
}
