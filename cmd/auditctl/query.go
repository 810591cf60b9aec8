package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"rental-platform/internal/audit"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print one page of the audit feed, newest first",
	Args:  cobra.NoArgs,
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().Int("page", 1, "page number, starting at 1")
	queryCmd.Flags().Int("page-size", audit.DefaultPageSize, "records per page (capped by AUDIT_MAX_PAGE_SIZE)")
	queryCmd.Flags().Bool("json", false, "output the page as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, _ []string) error {
	page, _ := cmd.Flags().GetInt("page")
	size, _ := cmd.Flags().GetInt("page-size")
	jsonOutput, _ := cmd.Flags().GetBool("json")

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

	res, err := qs.Query(ctx, f, audit.Page{Number: page, Size: size})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if len(res.Records) == 0 {
		fmt.Println("No records found.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOCCURRED\tSEVERITY\tACTOR\tACTION\tENTITY\tDESCRIPTION")
	for _, r := range res.Records {
		actor := r.Actor.DisplayName
		if !r.Actor.Resolved {
			actor = r.ActorID + " (unknown)"
		}
		desc := r.Description
		if r.PendingSync {
			desc += " [pending sync]"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s/%s\t%s\n",
			r.ID,
			r.OccurredAt.UTC().Format(time.RFC3339),
			r.Severity,
			actor,
			r.Action,
			r.EntityKind, r.EntityID,
			desc,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if res.HasMore {
		fmt.Printf("\nMore records on page %d.\n", res.Page+1)
	}
	return nil
}
