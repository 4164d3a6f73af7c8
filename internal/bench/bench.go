// Package bench provides benchmarking primitives for the audioml bench command.
package bench

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and audio metadata for a single inference run.
type RunResult struct {
	Index          int
	Cold           bool // true for the first run (cold-start)
	Duration       time.Duration
	WindowDuration time.Duration
	RTF            float64
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	MeanRTF float64
}

// ComputeStats calculates min, max and mean over a slice of durations.
// The slice must be non-empty.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// Summarize computes Stats over runs, including the mean real-time factor.
func Summarize(runs []RunResult) Stats {
	durations := make([]time.Duration, len(runs))
	var totalRTF float64
	for i, r := range runs {
		durations[i] = r.Duration
		totalRTF += r.RTF
	}

	stats := ComputeStats(durations)
	if len(runs) > 0 {
		stats.MeanRTF = totalRTF / float64(len(runs))
	}

	return stats
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// StepFunc performs one timed inference.
type StepFunc func(ctx context.Context) error

// Run calls step runs times and records each call's duration against the
// audio duration of one window. The first run is marked cold.
func Run(ctx context.Context, runs int, window time.Duration, step StepFunc) ([]RunResult, error) {
	if runs < 1 {
		return nil, fmt.Errorf("runs must be at least 1, got %d", runs)
	}

	results := make([]RunResult, 0, runs)
	for i := range runs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		start := time.Now()
		if err := step(ctx); err != nil {
			return results, fmt.Errorf("run %d failed: %w", i+1, err)
		}
		dur := time.Since(start)

		results = append(results, RunResult{
			Index:          i,
			Cold:           i == 0,
			Duration:       dur,
			WindowDuration: window,
			RTF:            CalcRTF(dur, window),
		})
	}

	return results, nil
}

// ---------------------------------------------------------------------------
// RTF helpers
// ---------------------------------------------------------------------------

// CalcRTF returns inference_duration / audio_duration.
// Returns 0 if audioDur is zero to avoid division by zero.
func CalcRTF(inferDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}
	return float64(inferDur) / float64(audioDur)
}

// WindowDuration returns the playback duration of n samples at sampleRate.
func WindowDuration(n, sampleRate int) time.Duration {
	if n <= 0 || sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// ---------------------------------------------------------------------------
// RTF threshold gate
// ---------------------------------------------------------------------------

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %12s  %8s\n", "Run", "Cold", "MS", "Audio(ms)", "RTF")
	fmt.Fprintln(sb, strings.Repeat("-", 48))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.3f  %12.1f  %8.4f\n",
			r.Index+1,
			cold,
			ms(r.Duration),
			ms(r.WindowDuration),
			r.RTF,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 48))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.3f  %12s  %8s  (min)\n", "", "", ms(stats.Min), "", "")
	fmt.Fprintf(sb, "%-5s  %-5s  %10.3f  %12s  %8.4f  (mean)\n", "", "", ms(stats.Mean), "", stats.MeanRTF)
	fmt.Fprintf(sb, "%-5s  %-5s  %10.3f  %12s  %8s  (max)\n", "", "", ms(stats.Max), "", "")

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationMS float64 `json:"duration_ms"`
	AudioMS    float64 `json:"audio_ms"`
	RTF        float64 `json:"rtf"`
}

type jsonStats struct {
	MinMS   float64 `json:"min_ms"`
	MeanMS  float64 `json:"mean_ms"`
	MaxMS   float64 `json:"max_ms"`
	MeanRTF float64 `json:"mean_rtf"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:   ms(stats.Min),
			MeanMS:  ms(stats.Mean),
			MaxMS:   ms(stats.Max),
			MeanRTF: stats.MeanRTF,
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			DurationMS: ms(r.Duration),
			AudioMS:    ms(r.WindowDuration),
			RTF:        r.RTF,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
