package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/engine"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "engram",
		Short: "Conversational assistant with tiered long-term memory",
		Long: "engram keeps a running memory of what you tell it. Each turn retrieves the\n" +
			"relevant memories into the prompt, then extracts and curates new ones in the\n" +
			"background.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(o.envFile)
		},
	}

	cmd.PersistentFlags().StringVar(&o.configPath, "config", "", "YAML config file (default: $ENGRAM_CONFIG)")
	cmd.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before the config; a missing file is ignored")

	cmd.AddCommand(
		newChatCmd(o),
		newServeCmd(o),
		newMemoriesCmd(o),
		newRememberCmd(o),
		newTurnCmd(o),
		newTurnsCmd(o),
		newStatsCmd(o),
		newResetCmd(o),
		newBackupCmd(o),
		newMCPCmd(o),
		newVersionCmd(),
	)
	return cmd
}

// loadEnvFile exports the variables in path unless they are already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setup loads the configuration and builds the process logger, which writes
// to the command's stderr.
func (o *rootOptions) setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Log, cmd.ErrOrStderr()), nil
}

// open loads the configuration and opens the engine.
func (o *rootOptions) open(cmd *cobra.Command, extra ...engine.Option) (*app, error) {
	cfg, logger, err := o.setup(cmd)
	if err != nil {
		return nil, err
	}
	return openApp(cmd.Context(), cfg, logger, extra...)
}
