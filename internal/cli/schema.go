package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watzon/nanofield/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the schema file",
}

var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the schema with every default resolved",
	Long: `Print the schema as it is understood after defaults are applied.

Nanoid fields show their resolved alphabet and size; options equal to the
field type's defaults are omitted.`,
	RunE: runSchemaShow,
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the schema file for errors",
	RunE:  runSchemaValidate,
}

func init() {
	schemaCmd.AddCommand(schemaShowCmd)
	schemaCmd.AddCommand(schemaValidateCmd)
	rootCmd.AddCommand(schemaCmd)
}

func runSchemaShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, _, err := loadSchema(cfg)
	if err != nil {
		return err
	}

	data, err := schema.Marshal(s)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runSchemaValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, path, err := loadSchema(cfg)
	if err != nil {
		return err
	}

	nanoids := 0
	for _, col := range s.Collections {
		nanoids += len(col.NanoIDFields())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d collections, %d nanoid fields, %d buckets\n",
		path, len(s.Collections), nanoids, len(s.Buckets))
	return nil
}
