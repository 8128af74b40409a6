package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewResolveCmd creates the resolve command.
func NewResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id> [base]",
		Short: "Print the canonical id a module request resolves to",
		Long: `Resolve a module id the way require would, without loading it.

Relative ids resolve against the directory of base, or the working
directory when base is omitted. Bare ids search the configured module
directories of every ancestor.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)

			sb, err := cliCtx.NewSandbox()
			if err != nil {
				return err
			}

			var base string
			if len(args) > 1 {
				base = args[1]
			}

			id, err := sb.Resolve(args[0], base)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
