package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/go-audioml/internal/audio"
	"github.com/example/go-audioml/internal/bench"
	"github.com/example/go-audioml/internal/classifier"
	"github.com/example/go-audioml/internal/engine"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		runs         int
		freq         float64
		format       string
		rtfThreshold float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark classification latency and realtime factor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			engineCfg, err := engine.ConfigFrom(cfg.Runtime)
			if err != nil {
				return err
			}
			if err := bootstrapRuntime(cfg); err != nil {
				return err
			}

			orch := classifier.New(cfg.Paths.ModelPath,
				classifier.WithLogger(slog.Default()),
				classifier.WithEngineConfig(engineCfg),
			)
			defer orch.Close()

			if !orch.Ready() {
				return fmt.Errorf("initialize classifier: %w", orch.Err())
			}

			window := audio.Sine(audio.InputLen, freq, cfg.Audio.SampleRate, 0.5)
			results, err := bench.Run(cmd.Context(), runs,
				bench.WindowDuration(len(window), cfg.Audio.SampleRate),
				func(ctx context.Context) error {
					res := orch.Process(ctx, window, len(window))
					if !res.OK() {
						return fmt.Errorf("%s at %s: %w", res.Status, res.Stage, res.Err)
					}
					return nil
				},
			)
			if err != nil {
				return err
			}

			stats := bench.Summarize(results)

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				bench.FormatJSON(results, stats, out)
			default:
				bench.FormatTable(results, stats, out)
			}

			return bench.CheckRTFThreshold(stats.MeanRTF, rtfThreshold)
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 20, "Number of inference runs")
	cmd.Flags().Float64Var(&freq, "freq", 440, "Frequency in Hz of the synthetic sine window")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")

	return cmd
}
