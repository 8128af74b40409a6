// Package cli implements the jsbox command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"jsbox/internal/config"
	"jsbox/pkg/logger"
)

// GlobalFlags holds flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

type contextKey struct{}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jsbox",
		Short: "jsbox - sandboxed JavaScript module runner",
		Long: `jsbox runs JavaScript programs, workers and an interactive repl
inside isolated sandboxes with CommonJS-style module loading.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}

			configPath := globalFlags.ConfigPath
			if configPath == "" {
				var err error
				configPath, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logLevel := cfg.Log.Level
			if globalFlags.Verbose {
				logLevel = "debug"
			}
			if globalFlags.Quiet {
				logLevel = "error"
			}

			logFile, err := config.ExpandPath(cfg.Log.File)
			if err != nil {
				return err
			}
			if err := logger.Init(logger.LogConfig{
				Level:  logLevel,
				Format: cfg.Log.Format,
				File:   logFile,
				Output: cmd.ErrOrStderr(),
			}); err != nil {
				return err
			}

			storagePath := cfg.Storage.Path
			if storagePath == "" {
				storagePath, err = config.DefaultDataPath()
				if err != nil {
					return err
				}
			}

			cliCtx := NewCLIContext(cfg, configPath, logger.Get(), storagePath)
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cliCtx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx := GetCLIContext(cmd); cliCtx != nil {
				return cliCtx.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "quiet mode")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewReplCmd())
	rootCmd.AddCommand(NewResolveCmd())
	rootCmd.AddCommand(NewWorkerCmd())

	return rootCmd
}

// GetCLIContext returns the context PersistentPreRunE attached to cmd.
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cliCtx, ok := ctx.Value(contextKey{}).(*CLIContext)
	if !ok {
		return nil
	}
	return cliCtx
}
