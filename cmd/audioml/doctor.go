package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/go-audioml/internal/config"
	"github.com/example/go-audioml/internal/doctor"
	"github.com/example/go-audioml/internal/engine"
	"github.com/example/go-audioml/internal/model"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var minORTVersion string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "delegate: %s\n", cfg.Runtime.Delegate)

			dcfg := doctor.Config{
				MinORTVersion: minORTVersion,
				ModelPath:     cfg.Paths.ModelPath,
				ParseModel:    describeModelFile,
				Threads:       cfg.Runtime.Threads,
				CPU:           doctor.HostCPU(),
			}
			if engine.NeedsRuntime(cfg.Runtime.Delegate) {
				dcfg.Runtime = func() (string, string, error) {
					return probeRuntime(cfg.Runtime)
				}
			}

			result := doctor.Run(dcfg, out)

			// Checksum pin from the sidecar manifest, when one exists.
			if err := checkManifest(cfg.Paths.ModelPath); err != nil {
				result.AddFailure(fmt.Sprintf("manifest: %v", err))
				_, _ = fmt.Fprintf(out, "%s manifest: %v\n", doctor.FailMark, err)
			}

			for _, w := range result.Warnings() {
				fmt.Fprintf(os.Stderr, "WARN: %s\n", w)
			}

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().StringVar(&minORTVersion, "min-ort-version", "", "Fail when the detected ONNX Runtime is older (e.g. 1.17)")

	return cmd
}

// probeRuntime reports the detected ONNX Runtime library and its version.
func probeRuntime(rc config.RuntimeConfig) (string, string, error) {
	info, err := engine.DetectRuntime(rc)
	if err != nil {
		return "", "", err
	}

	version := info.Version
	if version == "unknown" {
		version = ""
	}

	return info.LibraryPath, version, nil
}

func describeModelFile(path string) (string, error) {
	m, err := model.Load(path)
	if err != nil {
		return "", err
	}
	defer m.Close()

	return m.String(), nil
}

func checkManifest(modelPath string) error {
	mf, ok, err := model.LoadManifestFor(modelPath)
	if err != nil || !ok {
		return err
	}

	m, err := model.Load(modelPath)
	if err != nil {
		// Already reported by the model check.
		return nil
	}
	defer m.Close()

	return mf.Verify(m)
}
