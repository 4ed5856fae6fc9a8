// Package cli defines the sweep command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var cfgFile, envFile string

	root := &cobra.Command{
		Use:   "sweep",
		Short: "Run LLM parameter-sweep experiments",
		Long: `sweep expands temperature and top-p ranges into generation tasks, runs them
against an OpenAI-compatible provider, scores every response and aggregates
the results.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sweep.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")

	configPath := func() string { return cfgFile }
	root.AddCommand(
		newServeCommand(configPath),
		newRunCommand(configPath),
		newExportCommand(configPath),
		newWorkerCommand(configPath),
		newSubmitCommand(configPath),
	)
	return root
}

// loadEnvFile loads path into the environment. A missing file is ignored;
// variables already set win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
