package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rental-platform/internal/audit"
	"rental-platform/internal/config"
	"rental-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	filter  filterFlags
)

var rootCmd = &cobra.Command{
	Use:   "auditctl",
	Short: "Query and export the listing audit trail",
	Long: `auditctl reads the append-only audit trail with the same filters the
admin feed accepts. Records are never modified.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (env only when empty)")
	filter.register(rootCmd)
}

// filterFlags mirrors the admin feed query parameters.
type filterFlags struct {
	entityKind string
	entityID   string
	action     string
	severity   string
	actorID    string
	text       string
	after      string
	before     string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.StringVar(&f.entityKind, "entity-kind", "", "listing, user, session, booking, payment or audit")
	fs.StringVar(&f.entityID, "entity-id", "", "exact entity id")
	fs.StringVar(&f.action, "action", "", "exact action, e.g. listing_deleted")
	fs.StringVar(&f.severity, "severity", "", "info, warning, error or critical")
	fs.StringVar(&f.actorID, "actor", "", "exact actor id")
	fs.StringVarP(&f.text, "query", "q", "", "case-insensitive text over description, action and entity id")
	fs.StringVar(&f.after, "after", "", "RFC3339 lower bound, inclusive")
	fs.StringVar(&f.before, "before", "", "RFC3339 upper bound, exclusive")
}

func (f filterFlags) build() (audit.Filter, error) {
	out := audit.Filter{
		EntityKind: audit.EntityKind(f.entityKind),
		EntityID:   f.entityID,
		Action:     audit.Action(f.action),
		Severity:   audit.Severity(f.severity),
		ActorID:    f.actorID,
		FreeText:   f.text,
	}
	if out.Severity != "" && !out.Severity.Valid() {
		return audit.Filter{}, fmt.Errorf("unknown severity %q", f.severity)
	}
	var err error
	if out.OccurredAfter, err = parseTime("after", f.after); err != nil {
		return audit.Filter{}, err
	}
	if out.OccurredBefore, err = parseTime("before", f.before); err != nil {
		return audit.Filter{}, err
	}
	return out, nil
}

func parseTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be RFC3339: %w", name, err)
	}
	return t, nil
}

func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load()
}

// openQuery connects to postgres and returns a query service over it.
// The caller closes the returned db.
func openQuery(ctx context.Context, cfg config.Config) (*audit.QueryService, *sql.DB, error) {
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	qs := audit.NewQueryService(audit.NewPostgresRepo(db), audit.NewPostgresDirectory(db), cfg.Audit.MaxPageSize)
	return qs, db, nil
}
