package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"crm-automation/internal/database"
)

var (
	copyFrom  string
	copyBatch int
)

var copyDataCmd = &cobra.Command{
	Use:   "copy-data",
	Short: "Copy every table from a sqlite file into the configured database",
	Long: "Reads the sqlite database given by --from and inserts its rows into the database named by DB_DRIVER/DB_DSN. " +
		"Existing primary keys are skipped. On postgres the id sequences are realigned afterwards.",
	Args: cobra.NoArgs,
	RunE: copyData,
}

func init() {
	copyDataCmd.Flags().StringVar(&copyFrom, "from", "", "source sqlite file")
	copyDataCmd.Flags().IntVar(&copyBatch, "batch", 500, "rows per insert")
	_ = copyDataCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(copyDataCmd)
}

func copyData(cmd *cobra.Command, args []string) error {
	_, dst, zl, err := env()
	if err != nil {
		return err
	}
	src, err := database.Open("sqlite", copyFrom)
	if err != nil {
		return err
	}

	report, err := database.CopyAll(context.Background(), src, dst, copyBatch)
	if err != nil {
		return err
	}
	if dst.Dialector.Name() == "postgres" {
		if err := database.SyncSequences(dst); err != nil {
			return err
		}
	}
	zl.Info().Str("from", copyFrom).Msg("copy finished")

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(report)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS")
	for _, tc := range report {
		fmt.Fprintf(w, "%s\t%d\n", tc.Table, tc.Rows)
	}
	return w.Flush()
}
