package main

import (
	"fmt"
	"io"

	"github.com/example/go-audioml/internal/model"
	"github.com/example/go-audioml/internal/server"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newModelInspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect [model.onnx]",
		Short: "Print the parsed input and output tensors of a model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			path := cfg.Paths.ModelPath
			if len(args) == 1 {
				path = args[0]
			}

			m, err := model.Load(path)
			if err != nil {
				return err
			}
			defer m.Close()

			mf, _, err := model.LoadManifestFor(path)
			if err != nil {
				return err
			}

			info := server.DescribeModel(m)
			info.Labels = mf.Labels

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			writeModelInfo(out, m, info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")

	return cmd
}

func writeModelInfo(w io.Writer, m *model.Model, info server.ModelInfo) {
	fmt.Fprintf(w, "model:    %s\n", info.Name)
	fmt.Fprintf(w, "sha256:   %s\n", info.SHA256)
	fmt.Fprintf(w, "ir:       %d\n", info.IRVersion)
	fmt.Fprintf(w, "opset:    %d\n", info.Opset)
	if info.Producer != "" {
		fmt.Fprintf(w, "producer: %s\n", info.Producer)
	}
	if g := m.GraphName(); g != "" {
		fmt.Fprintf(w, "graph:    %s\n", g)
	}

	fmt.Fprintln(w, "inputs:")
	for _, t := range m.Inputs() {
		fmt.Fprintf(w, "  %s\n", t)
	}
	fmt.Fprintln(w, "outputs:")
	for _, t := range m.Outputs() {
		fmt.Fprintf(w, "  %s\n", t)
	}

	if len(info.Labels) > 0 {
		fmt.Fprintf(w, "labels:   %d\n", len(info.Labels))
		for i, l := range info.Labels {
			fmt.Fprintf(w, "  %d: %s\n", i, l)
		}
	}
}
