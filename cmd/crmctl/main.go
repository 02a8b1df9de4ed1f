// Command crmctl is the operator CLI: schema migration, flow import and
// export, and execution inspection.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"crm-automation/internal/config"
	"crm-automation/internal/database"
	"crm-automation/internal/logger"
)

var (
	tenant       string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:           "crmctl",
	Short:         "Operator tool for the CRM automation engine",
	Long:          "Manage the automation database, chatbot flows and running executions. Connection settings come from the same environment as the server.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&tenant, "tenant", "t", "", "tenant id")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env loads configuration and opens the migrated database.
func env() (*config.Config, *gorm.DB, zerolog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	zl := logger.New(cfg)
	db, err := database.OpenAndMigrate(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, zl, err
	}
	return cfg, db, zl, nil
}

func requireTenant() error {
	if tenant == "" {
		return fmt.Errorf("--tenant is required")
	}
	return nil
}
