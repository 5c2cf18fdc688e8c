package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"blendcore/internal/backend"
)

func framesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frames",
		Short: "Import and list exposure frames in the blob store",
	}
	cmd.AddCommand(framesPutCmd(a), framesListCmd(a))
	return cmd
}

func framesPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put FILE...",
		Short: "Store exposure frame JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			store, err := openBlob(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			logger := a.logger(cmd, cfg)
			for _, path := range args {
				var frame backend.Frame
				if err := readJSON(path, &frame); err != nil {
					return err
				}
				info, err := backend.WriteFrame(cmd.Context(), store, &frame)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				logger.Info().Str("exposure", string(frame.Exposure)).Str("key", info.Key).Int64("bytes", info.Size).Msg("frame stored")
				fmt.Fprintln(cmd.OutOrStdout(), info.Key)
			}
			return nil
		},
	}
}

func framesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored exposure ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			store, err := openBlob(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			ids, err := backend.ListFrames(cmd.Context(), store)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func manifestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Manage the run manifest",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "put FILE",
		Short: "Store a manifest JSON file under the configured manifest key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			var m backend.Manifest
			if err := readJSON(args[0], &m); err != nil {
				return err
			}
			store, err := openBlob(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := backend.WriteManifest(cmd.Context(), store, cfg.Manifest, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d objects, %d units\n", cfg.Manifest, len(m.Objects), len(m.Units))
			return nil
		},
	})
	return cmd
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
