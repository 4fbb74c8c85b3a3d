package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"papertrade/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Archive the SQLite ledger to Parquet files",
	Long: `Reads the SQLite ledger directly and writes one Parquet file per user and
UTC day under <out>/ledger/<user>/<YYYY-MM-DD>.parquet. Re-running merges
by trade ID, so exports are idempotent.

With --user only that user's ledger is exported; otherwise every account is.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var (
	exportDB  string
	exportOut string
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportDB, "db", "d", "data/papertrade.db", "path to the SQLite ledger")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "data", "archive root directory")
}

func runExport(cmd *cobra.Command, _ []string) error {
	trades, files, err := exportLedger(cmd.Context(), exportDB, exportOut, userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d trades into %d files under %s\n", trades, files, exportOut)
	return nil
}

// exportLedger returns the number of trades exported and files written.
func exportLedger(ctx context.Context, dbPath, outDir, user string) (trades, files int, err error) {
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	users := []string{user}
	if user == "" {
		if users, err = st.Users(ctx); err != nil {
			return 0, 0, err
		}
	}

	archive := store.NewParquetArchive(outDir)
	for _, u := range users {
		recs, err := st.ListByUser(ctx, u)
		if err != nil {
			return trades, files, err
		}
		n, err := archive.Export(ctx, recs)
		if err != nil {
			return trades, files, fmt.Errorf("export %s: %w", u, err)
		}
		trades += len(recs)
		files += n
	}
	return trades, files, nil
}
