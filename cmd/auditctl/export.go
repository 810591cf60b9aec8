package main

import (
	"fmt"
	"os"

	"rental-platform/internal/audit"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export matching records as CSV to stdout or the archive bucket",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().Int("limit", 10000, "maximum records to export, 0 for no limit")
	exportCmd.Flags().Bool("s3", false, "upload to ARCHIVE_BUCKET instead of writing to stdout")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	toS3, _ := cmd.Flags().GetBool("s3")

	f, err := filter.build()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	qs, db, err := openQuery(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if !toS3 {
		n, err := qs.ExportCSV(ctx, os.Stdout, f, limit)
		if err != nil {
			return fmt.Errorf("export failed after %d records: %w", n, err)
		}
		fmt.Fprintf(os.Stderr, "Exported %d records.\n", n)
		return nil
	}

	archiver, err := audit.NewS3Archiver(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	key, n, err := archiver.ArchiveExport(ctx, qs, f, limit)
	if err != nil {
		return fmt.Errorf("archive failed: %w", err)
	}
	fmt.Printf("Uploaded %d records to s3://%s/%s\n", n, cfg.Archive.Bucket, key)
	return nil
}
