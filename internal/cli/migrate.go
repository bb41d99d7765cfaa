package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/nanofield/internal/schema"
)

var migrateDryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
	Long: `Bring the database in line with the schema file.

The last applied schema is stored in the database. Changes are computed
against it; additive changes are applied automatically and nanoid columns
added to existing collections are filled for every row.

Examples:
  nanofield migrate status   Show pending schema changes
  nanofield migrate apply    Apply pending schema changes`,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending schema changes",
	RunE:  runMigrateStatus,
}

var migrateApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply pending schema changes",
	Long: `Apply all pending schema changes in one transaction.

Changes that could lose data or break existing identifiers (dropping
fields, changing a nanoid size) are refused; nothing is applied when any
of them is pending.`,
	RunE: runMigrateApply,
}

func init() {
	migrateApplyCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "show the changes without applying them")

	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateApplyCmd)

	rootCmd.AddCommand(migrateCmd)
}

func planMigration(cmd *cobra.Command) (*app, *schema.Migrator, schema.Changes, error) {
	a, err := openApp(cmd.Context())
	if err != nil {
		return nil, nil, nil, err
	}

	m := schema.NewMigrator(a.db, a.cfg.NanoID.MaxAttempts)
	changes, err := m.Plan(cmd.Context(), a.schema)
	if err != nil {
		a.Close()
		return nil, nil, nil, fmt.Errorf("planning migration: %w", err)
	}
	return a, m, changes, nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	a, _, changes, err := planMigration(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	printChanges(cmd, changes)
	return nil
}

func runMigrateApply(cmd *cobra.Command, args []string) error {
	a, m, changes, err := planMigration(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	printChanges(cmd, changes)
	if migrateDryRun || len(changes) == 0 {
		return nil
	}

	if err := m.Apply(cmd.Context(), a.schema, changes); err != nil {
		return err
	}

	log.Info().Int("changes", len(changes)).Msg("Schema applied")
	return nil
}

func printChanges(cmd *cobra.Command, changes schema.Changes) {
	out := cmd.OutOrStdout()
	if len(changes) == 0 {
		fmt.Fprintln(out, "Database is up to date.")
		return
	}

	fmt.Fprintln(out, "Pending changes:")
	for _, c := range changes {
		marker := "+"
		if !c.Safe {
			marker = "!"
		}
		fmt.Fprintf(out, "  %s %s\n", marker, c)
	}

	if unsafe := changes.Unsafe(); len(unsafe) > 0 {
		fmt.Fprintf(out, "\n%d change(s) marked ! need a manual migration; apply will refuse the plan until they are resolved.\n", len(unsafe))
	}
}
