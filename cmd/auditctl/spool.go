package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"rental-platform/internal/audit"

	"github.com/spf13/cobra"
)

var spoolCmd = &cobra.Command{
	Use:   "spool [path]",
	Short: "List audit records whose append failed and were kept locally",
	Long: `Reads the sqlite spool written by the API when the audit store rejects an
append. The path defaults to AUDIT_SPOOL_PATH.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSpool,
}

func init() {
	rootCmd.AddCommand(spoolCmd)
}

func runSpool(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Audit.SpoolPath
	}
	if path == "" {
		return fmt.Errorf("no spool path given and AUDIT_SPOOL_PATH is empty")
	}

	spool, err := audit.OpenSQLiteSpool(path)
	if err != nil {
		return err
	}
	defer spool.Close()

	recs, err := spool.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("reading spool: %w", err)
	}
	if len(recs) == 0 {
		fmt.Println("Spool is empty.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FAILED\tACTION\tENTITY\tACTOR\tCAUSE")
	for _, s := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%s\n",
			s.FailedAt.UTC().Format(time.RFC3339),
			s.Record.Action,
			s.Record.EntityKind, s.Record.EntityID,
			s.Record.ActorID,
			s.Cause,
		)
	}
	return tw.Flush()
}
