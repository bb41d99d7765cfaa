package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/watzon/nanofield/internal/database"
	"github.com/watzon/nanofield/internal/records"
	"github.com/watzon/nanofield/internal/schema"
)

var recordCmd = &cobra.Command{
	Use:     "record",
	Aliases: []string{"records"},
	Short:   "Create, read and regenerate records",
}

var (
	recordSet     []string
	recordFilters []string
	recordSorts   []string
	recordLimit   int
	recordOffset  int
	recordForce   bool
)

var recordCreateCmd = &cobra.Command{
	Use:   "create <collection>",
	Short: "Create a record",
	Long: `Create a record. Nanoid fields left out are generated; unique ones are
checked against stored values first.

Fields that are not editable (nanoid fields by default) are ignored when
passed with --set.

Example:
  nanofield record create links --set url=https://example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runRecordCreate,
}

var recordUpdateCmd = &cobra.Command{
	Use:   "update <collection> <id>",
	Short: "Update fields of a record",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecordUpdate,
}

var recordGetCmd = &cobra.Command{
	Use:   "get <collection> <id>",
	Short: "Show a record",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecordGet,
}

var recordListCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "List records",
	Long: `List records of a collection.

Filters use field:op:value with op one of eq, ne, gt, gte, lt, lte, like,
contains, in, is_null, not_null. Sort fields take a "-" prefix for
descending order.

Example:
  nanofield record list links --filter owner:eq:abc --sort -created_at`,
	Args: cobra.ExactArgs(1),
	RunE: runRecordList,
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecordDelete,
}

var recordRegenerateCmd = &cobra.Command{
	Use:   "regenerate <collection> <id> <field>",
	Short: "Replace a nanoid value and update records that reference it",
	Long: `Replace the value of a nanoid field on one record.

Columns in other collections that reference the field are rewritten to the
new value in the same transaction. Identifiers used outside the database
(links, bookmarks) stop working, so you are asked to confirm unless
--force is given. Primary keys cannot be regenerated.`,
	Args: cobra.ExactArgs(3),
	RunE: runRecordRegenerate,
}

var recordHistoryCmd = &cobra.Command{
	Use:   "history <collection> <id>",
	Short: "Show past regenerations of a record",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecordHistory,
}

func init() {
	recordCreateCmd.Flags().StringArrayVar(&recordSet, "set", nil, "field=value (repeatable)")
	recordUpdateCmd.Flags().StringArrayVar(&recordSet, "set", nil, "field=value (repeatable)")
	recordListCmd.Flags().StringArrayVar(&recordFilters, "filter", nil, "field:op:value (repeatable)")
	recordListCmd.Flags().StringArrayVar(&recordSorts, "sort", nil, "field or -field (repeatable)")
	recordListCmd.Flags().IntVar(&recordLimit, "limit", 0, "maximum number of records")
	recordListCmd.Flags().IntVar(&recordOffset, "offset", 0, "records to skip")
	recordRegenerateCmd.Flags().BoolVarP(&recordForce, "force", "f", false, "skip the confirmation prompt")

	recordCmd.AddCommand(recordCreateCmd)
	recordCmd.AddCommand(recordUpdateCmd)
	recordCmd.AddCommand(recordGetCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordDeleteCmd)
	recordCmd.AddCommand(recordRegenerateCmd)
	recordCmd.AddCommand(recordHistoryCmd)

	rootCmd.AddCommand(recordCmd)
}

func runRecordCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	col, err := collection(a.schema, args[0])
	if err != nil {
		return err
	}
	row, err := parseAssignments(col, recordSet)
	if err != nil {
		return err
	}

	saved, err := a.recordService().Save(cmd.Context(), col.Name, editable(col, row))
	if err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), saved)
}

func runRecordUpdate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	col, err := collection(a.schema, args[0])
	if err != nil {
		return err
	}
	pk, err := parseValue(col.PrimaryKeyField(), args[1])
	if err != nil {
		return err
	}
	row, err := parseAssignments(col, recordSet)
	if err != nil {
		return err
	}

	svc := a.recordService()
	if _, err := svc.Get(cmd.Context(), col.Name, pk); err != nil {
		return err
	}

	row = editable(col, row)
	row[col.PrimaryKeyField().Name] = pk
	saved, err := svc.Save(cmd.Context(), col.Name, row)
	if err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), saved)
}

func runRecordGet(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	col, err := collection(a.schema, args[0])
	if err != nil {
		return err
	}
	pk, err := parseValue(col.PrimaryKeyField(), args[1])
	if err != nil {
		return err
	}

	row, err := a.recordService().Get(cmd.Context(), col.Name, pk)
	if err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), row)
}

func runRecordList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	opts := records.ListOptions{
		Sort:   recordSorts,
		Limit:  recordLimit,
		Offset: recordOffset,
	}
	for _, raw := range recordFilters {
		f, err := database.ParseFilterString(raw)
		if err != nil {
			return err
		}
		opts.Filters = append(opts.Filters, f)
	}

	rows, err := a.recordService().List(cmd.Context(), args[0], opts)
	if err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), rows)
}

func runRecordDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	col, err := collection(a.schema, args[0])
	if err != nil {
		return err
	}
	pk, err := parseValue(col.PrimaryKeyField(), args[1])
	if err != nil {
		return err
	}

	if err := a.recordService().Delete(cmd.Context(), col.Name, pk); err != nil {
		return err
	}
	log.Info().Str("collection", col.Name).Any("id", pk).Msg("Record deleted")
	return nil
}

func runRecordRegenerate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	col, err := collection(a.schema, args[0])
	if err != nil {
		return err
	}
	pk, err := parseValue(col.PrimaryKeyField(), args[1])
	if err != nil {
		return err
	}

	svc := a.recordService(records.WithConfirmer(&records.PromptConfirmer{
		In:  cmd.InOrStdin(),
		Out: cmd.ErrOrStderr(),
	}))

	result, err := svc.Regenerate(cmd.Context(), col.Name, pk, args[2], recordForce)
	if errors.Is(err, records.ErrCancelled) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Regeneration cancelled.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s.%s: %v -> %s (%d dependent rows updated)\n",
		col.Name, args[2], result.OldValue, result.NewValue, result.DependentsUpdated)
	return nil
}

func runRecordHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	history, err := a.recordService().History(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), history)
}

func collection(s *schema.Schema, name string) (*schema.Collection, error) {
	col, ok := s.Collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", records.ErrUnknownCollection, name)
	}
	return col, nil
}

// editable drops fields users may not set, logging each one.
func editable(col *schema.Collection, row records.Record) records.Record {
	kept := col.StripNonEditable(row)
	for key := range row {
		if _, ok := kept[key]; !ok {
			log.Warn().Str("collection", col.Name).Str("field", key).Msg("Ignoring value for non-editable field")
		}
	}
	return kept
}

// parseAssignments turns field=value pairs into a record, converting values
// to the field's type. Unknown fields are kept for Save to reject.
func parseAssignments(col *schema.Collection, pairs []string) (records.Record, error) {
	row := records.Record{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected field=value", pair)
		}
		f, ok := col.Fields[key]
		if !ok {
			row[key] = raw
			continue
		}
		value, err := parseValue(f, raw)
		if err != nil {
			return nil, err
		}
		row[key] = value
	}
	return row, nil
}

func parseValue(f *schema.Field, raw string) (any, error) {
	if raw == "" && f.Nullable {
		return nil, nil
	}
	switch f.Type {
	case schema.FieldTypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %q expects an integer: %w", f.Name, err)
		}
		return n, nil
	case schema.FieldTypeFloat:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("field %q expects a number: %w", f.Name, err)
		}
		return n, nil
	case schema.FieldTypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q expects a boolean: %w", f.Name, err)
		}
		return b, nil
	default:
		return raw, nil
	}
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
