package cli

import (
	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file> [args...]",
		Short: "Run a program as the main module",
		Long: `Run a program as the main module of a fresh sandbox.

The file may omit its extension; a directory runs its package.json main
or index file. Arguments after the file are passed to the program as argv.

Examples:
  jsbox run app.js
  jsbox run ./tool -- --flag value`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)

			sb, err := cliCtx.NewSandbox()
			if err != nil {
				return err
			}

			stop := interruptOnSignal(sb)
			defer stop()

			return sb.Run(args[0], args[1:])
		},
	}
}
