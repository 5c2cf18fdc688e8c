package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"blendcore/internal/config"
)

func configCmd(_ *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage run configuration files",
	}
	cmd.AddCommand(configInitCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		out   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "-" {
				return writeTemplate(cmd.OutOrStdout())
			}
			flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
			f, err := os.OpenFile(out, flags, 0o644)
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("%s already exists (use --force to overwrite)", out)
			}
			if err != nil {
				return err
			}
			if err := writeTemplate(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "blendcore.toml", "destination path, or - for stdout")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func writeTemplate(w io.Writer) error {
	if _, err := io.WriteString(w, "# blendctl run configuration. BLENDCORE_* environment variables override these values.\n"); err != nil {
		return err
	}
	return toml.NewEncoder(w).Encode(config.Default())
}

// optionOverrides is the shape of a run --options-file.
type optionOverrides struct {
	Deblender map[string]any `toml:"deblender"`
	Fitter    map[string]any `toml:"fitter"`
}

// applyOptionsFile overlays algorithm options read from path. Tables that
// are absent leave the configured options untouched.
func applyOptionsFile(cfg config.Config, path string) (config.Config, error) {
	var raw optionOverrides
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.Config{}, fmt.Errorf("load options file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.Config{}, fmt.Errorf("options file %s: unknown keys %v", path, undecoded)
	}
	if meta.IsDefined("deblender") {
		cfg.Deblender.Options = mergeOptions(cfg.Deblender.Options, raw.Deblender)
	}
	if meta.IsDefined("fitter") {
		cfg.Fitter.Options = mergeOptions(cfg.Fitter.Options, raw.Fitter)
	}
	return cfg, nil
}

func mergeOptions(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
