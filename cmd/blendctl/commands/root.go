package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"blendcore/internal/blob"
	"blendcore/internal/catalog"
	"blendcore/internal/config"
	"blendcore/internal/logging"
)

// app holds the persistent flags shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
}

// Execute runs the blendctl command tree.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "blendctl",
		Short:        "Deblend and measure astronomical objects across exposures",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "run configuration file (TOML); defaults plus BLENDCORE_* when empty")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (trace|debug|info|warn|error)")

	root.AddCommand(
		algorithmsCmd(a),
		configCmd(a),
		framesCmd(a),
		manifestCmd(a),
		runCmd(a),
		runsCmd(a),
	)
	return root
}

// loadConfig reads --config, or the defaults with environment overrides.
func (a *app) loadConfig() (config.Config, error) {
	if a.configPath != "" {
		return config.Load(a.configPath)
	}
	cfg := config.ApplyEnv(config.Default(), os.Getenv)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// logger builds the stderr logger. --log-level wins over the configured level.
func (a *app) logger(cmd *cobra.Command, cfg config.Config) zerolog.Logger {
	lc := logging.FromEnv(logging.ProfileRuntime)
	for _, raw := range []string{cfg.LogLevel, a.logLevel} {
		if lvl, ok := logging.ParseLevel(raw); ok {
			lc.Level = lvl
		}
	}
	return logging.New("blendctl", cmd.ErrOrStderr(), lc)
}

func openBlob(ctx context.Context, cfg config.Config) (blob.Store, error) {
	store, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return store, nil
}

func openCatalog(ctx context.Context, cfg config.Config) (catalog.Catalog, error) {
	cat, err := catalog.Open(ctx, cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return cat, nil
}
