package main

import (
	"github.com/spf13/cobra"

	"crm-automation/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, zl, err := env()
		if err != nil {
			return err
		}
		zl.Info().Str("driver", cfg.DBDriver).Msg("schema is up to date")
		return nil
	},
}

var syncSequencesCmd = &cobra.Command{
	Use:   "sync-sequences",
	Short: "Realign PostgreSQL id sequences after a bulk import",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, zl, err := env()
		if err != nil {
			return err
		}
		if err := database.SyncSequences(db); err != nil {
			return err
		}
		zl.Info().Strs("tables", database.SequenceTables).Msg("sequences synced")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, syncSequencesCmd)
}
