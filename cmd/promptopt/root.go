package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/epicforge/promptopt/config"
	"github.com/epicforge/promptopt/errs"
)

// Exit codes: 0 success, 1 configuration/secret error, 2 evaluation
// failure, 3 cancelled.
const (
	exitSuccess = 0
	exitConfig  = 1
	exitEval    = 2
	exitCancel  = 3
)

var (
	configPath string
	cfg        config.Config
	logger     *zap.Logger
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promptopt",
		Short: "Evolve a prompt that reliably decomposes epics into user-story packs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded

			l, err := zap.NewProduction()
			if err != nil {
				l = zap.NewNop()
			}
			logger = l
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")

	cmd.AddCommand(optimizeCmd(), serveCmd(), versionCmd())
	return cmd
}

// Execute runs the CLI and returns the process exit code, categorizing
// any returned error by its errs.Kind rather than letting cobra's default
// os.Exit(1) swallow the distinction between configuration, evaluation, and
// cancellation failures.
func Execute() int {
	cmd := rootCmd()
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "promptopt:", err)
	}
	return exitCodeFor(err)
}

// exitCodeFor maps an error to its process exit code. A nil error is
// success; an error not wrapped by errs (e.g. a cobra flag-parsing error)
// is treated as a configuration error.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}

	kind, ok := errs.KindOf(err)
	if !ok {
		return exitConfig
	}
	switch kind {
	case errs.KindConfiguration:
		return exitConfig
	case errs.KindCancellation:
		return exitCancel
	default:
		return exitEval
	}
}
