package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watzon/nanofield/internal/alphabet"
)

var alphabetsCmd = &cobra.Command{
	Use:   "alphabets",
	Short: "List the predefined alphabets",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-46s %-5s %s\n", "NAME", "SIZE", "CHARACTERS")
		for _, name := range alphabet.Names() {
			chars, _ := alphabet.Lookup(name)
			if name == alphabet.Default {
				name += " (default)"
			}
			fmt.Fprintf(out, "%-46s %-5d %s\n", name, len(chars), chars)
		}
		return nil
	},
}

func init() {
	AddCommand(alphabetsCmd)
}
