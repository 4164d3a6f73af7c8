package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/go-audioml/internal/audio"
	"github.com/example/go-audioml/internal/classifier"
	"github.com/example/go-audioml/internal/config"
	"github.com/example/go-audioml/internal/engine"
	"github.com/example/go-audioml/internal/model"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newClassifyCmd() *cobra.Command {
	var (
		hop    int
		top    int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "classify <file.wav>",
		Short: "Classify a 16-bit mono WAV file window by window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if hop <= 0 {
				hop = cfg.Audio.Hop
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			pcm, err := audio.DecodeWAV(data, cfg.Audio.SampleRate)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			report, err := classifyPCM(cmd.Context(), cfg, pcm, hop, top)
			if err != nil {
				return err
			}
			report.File = filepath.Base(args[0])

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			writeClassifyTable(out, report)
			return nil
		},
	}

	cmd.Flags().IntVar(&hop, "hop", 0, "Samples between window starts (default: audio.hop)")
	cmd.Flags().IntVar(&top, "top", 3, "Ranked classes to report per window (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit a JSON report instead of a table")

	return cmd
}

type rankedClass struct {
	Index int     `json:"index"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

type windowReport struct {
	Offset int           `json:"offset"`
	Scores []float32     `json:"scores"`
	Top    []rankedClass `json:"top"`
}

type classifyReport struct {
	File       string         `json:"file"`
	Model      string         `json:"model"`
	SampleRate int            `json:"sample_rate"`
	Samples    int            `json:"samples"`
	Hop        int            `json:"hop"`
	Windows    []windowReport `json:"windows"`
}

// classifyPCM runs every window of pcm through one classifier handle.
func classifyPCM(ctx context.Context, cfg config.Config, pcm audio.PCM, hop, top int) (classifyReport, error) {
	report := classifyReport{
		Model:      filepath.Base(cfg.Paths.ModelPath),
		SampleRate: pcm.SampleRate,
		Samples:    len(pcm.Samples),
		Hop:        hop,
	}

	windows := audio.Windows(pcm.Samples, audio.InputLen, hop)
	if len(windows) == 0 {
		return report, fmt.Errorf("no audio samples to classify")
	}

	engineCfg, err := engine.ConfigFrom(cfg.Runtime)
	if err != nil {
		return report, err
	}
	if err := bootstrapRuntime(cfg); err != nil {
		return report, err
	}

	mf, _, err := model.LoadManifestFor(cfg.Paths.ModelPath)
	if err != nil {
		return report, err
	}

	reg := classifier.NewRegistry(
		classifier.WithLogger(slog.Default()),
		classifier.WithEngineConfig(engineCfg),
	)
	defer reg.CloseAll()

	h := reg.Create(cfg.Paths.ModelPath)
	if err := reg.Err(h); err != nil {
		return report, fmt.Errorf("initialize classifier: %w", err)
	}

	report.Windows = make([]windowReport, 0, len(windows))
	for i, win := range windows {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		offset := i * hop
		scores := reg.Run(h, win, len(win))
		if len(scores) == 0 {
			return report, fmt.Errorf("window %d (offset %d): classification failed", i, offset)
		}

		ranked := classifier.TopK(scores, top)
		wr := windowReport{Offset: offset, Scores: scores, Top: make([]rankedClass, len(ranked))}
		for j, p := range ranked {
			wr.Top[j] = rankedClass{Index: p.Index, Label: mf.Label(p.Index), Score: p.Score}
		}
		report.Windows = append(report.Windows, wr)
	}

	return report, nil
}

func writeClassifyTable(w io.Writer, r classifyReport) {
	fmt.Fprintf(w, "%s: %d samples @ %d Hz, %d windows (hop %d)\n",
		r.File, r.Samples, r.SampleRate, len(r.Windows), r.Hop)
	fmt.Fprintf(w, "%-8s  %-8s  %s\n", "Offset", "Time(s)", "Top classes")
	fmt.Fprintln(w, strings.Repeat("-", 48))

	for _, win := range r.Windows {
		parts := make([]string, len(win.Top))
		for i, c := range win.Top {
			parts[i] = fmt.Sprintf("%s %.3f", c.Label, c.Score)
		}

		seconds := 0.0
		if r.SampleRate > 0 {
			seconds = float64(win.Offset) / float64(r.SampleRate)
		}
		fmt.Fprintf(w, "%-8d  %-8.3f  %s\n", win.Offset, seconds, strings.Join(parts, ", "))
	}
}
