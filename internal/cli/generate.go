package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/watzon/nanofield/internal/nanoid"
	"github.com/watzon/nanofield/internal/schema"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate NanoIDs",
	Long: `Print freshly generated NanoIDs.

Without --field the configured defaults apply and --alphabet, --predefined
and --size override them. With --field collection.field the field's own
options are used and, for unique fields, values already stored are skipped.

Examples:
  nanofield generate
  nanofield generate --predefined numbers --size 8 --count 3
  nanofield generate --field links.code`,
	RunE: runGenerate,
}

var (
	generateAlphabet   string
	generatePredefined string
	generateSize       int
	generateCount      int
	generateField      string
)

func init() {
	generateCmd.Flags().StringVarP(&generateAlphabet, "alphabet", "a", "", "custom alphabet")
	generateCmd.Flags().StringVarP(&generatePredefined, "predefined", "p", "", "predefined alphabet name (see 'nanofield alphabets')")
	generateCmd.Flags().IntVarP(&generateSize, "size", "s", 0, "identifier length")
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", 1, "number of identifiers")
	generateCmd.Flags().StringVarP(&generateField, "field", "f", "", "generate for a schema field (collection.field)")

	AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if generateCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	if generateField != "" {
		return generateForField(cmd, generateField)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	custom, predefined := cfg.NanoID.Alphabet, cfg.NanoID.AlphabetPredefined
	if generateAlphabet != "" || generatePredefined != "" {
		custom, predefined = generateAlphabet, generatePredefined
	}
	size := cfg.NanoID.Size
	if cmd.Flags().Changed("size") {
		size = generateSize
	}

	gen, err := nanoid.NewGenerator(custom, predefined, size)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i := 0; i < generateCount; i++ {
		id, err := gen.New()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, id)
	}
	return nil
}

func generateForField(cmd *cobra.Command, ref string) error {
	collection, field, ok := strings.Cut(ref, ".")
	if !ok {
		return fmt.Errorf("--field must be collection.field, got %q", ref)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	col, ok := a.schema.Collections[collection]
	if !ok {
		return fmt.Errorf("unknown collection %q", collection)
	}
	f, ok := col.Fields[field]
	if !ok || !f.IsNanoID() {
		return fmt.Errorf("%s is not a nanoid field", ref)
	}

	out := cmd.OutOrStdout()
	for i := 0; i < generateCount; i++ {
		id, err := schema.GenerateValue(cmd.Context(), a.db, collection, f, a.cfg.NanoID.MaxAttempts)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, id)
	}
	return nil
}
