package main

import (
	"context"
	"fmt"
	"io"

	"github.com/example/go-audioml/internal/config"
	"github.com/example/go-audioml/internal/engine"
	"github.com/example/go-audioml/internal/model"
	"github.com/spf13/cobra"
)

func newModelVerifyCmd() *cobra.Command {
	var delegate string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run a smoke inference on a silent window with the configured engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if delegate != "" {
				normalized, err := config.NormalizeDelegate(delegate)
				if err != nil {
					return err
				}
				cfg.Runtime.Delegate = normalized
			}

			return verifyModel(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&delegate, "engine", "", "Engine delegate to verify with (default: configured delegate)")

	return cmd
}

func verifyModel(ctx context.Context, cfg config.Config, w io.Writer) error {
	modelPath := cfg.Paths.ModelPath
	fmt.Fprintf(w, "verifying model: %s\n", modelPath)

	m, err := model.Load(modelPath)
	if err != nil {
		return fmt.Errorf("model verify failed: %w", err)
	}
	defer m.Close()
	fmt.Fprintf(w, "  ✓ parsed %s\n", m)

	mf, ok, err := model.LoadManifestFor(modelPath)
	if err != nil {
		return fmt.Errorf("model verify failed: %w", err)
	}
	if ok && mf.SHA256 != "" {
		if err := mf.Verify(m); err != nil {
			return fmt.Errorf("model verify failed: %w", err)
		}
		fmt.Fprintf(w, "  ✓ checksum %s\n", m.SHA256())
	}

	engineCfg, err := engine.ConfigFrom(cfg.Runtime)
	if err != nil {
		return err
	}
	if err := bootstrapRuntime(cfg); err != nil {
		return fmt.Errorf("model verify failed: %w", err)
	}

	report, err := engine.Verify(ctx, m, engineCfg)
	if err != nil {
		return fmt.Errorf("model verify failed: %w", err)
	}

	fmt.Fprintf(w, "  ✓ %s inference in %s\n", report.Delegate, report.Duration)
	for _, o := range report.Outputs {
		fmt.Fprintf(w, "  ✓ output %s %v range [%g, %g]\n", o.Name, o.Shape, o.Min, o.Max)
	}

	fmt.Fprintln(w, "model verification passed")
	return nil
}
