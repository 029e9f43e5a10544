package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func modelCommand(ctx *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "model",
		Short: "Print the loaded network's summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := ctx.loadClassifier()
			if err != nil {
				return err
			}
			defer func() { _ = classifier.Close() }()

			summary := classifier.Summary()
			out := cmd.OutOrStdout()
			if ctx.JSON {
				return writeJSON(out, summary)
			}

			fmt.Fprintf(out, "Backend:      %s\n", summary.Backend)
			fmt.Fprintf(out, "Fingerprint:  %s\n", summary.Fingerprint)
			fmt.Fprintf(out, "Input:        %s\n", shape(summary.InputShape))
			fmt.Fprintf(out, "Features:     %s\n", shape(summary.FeatureShape))
			fmt.Fprintf(out, "Output:       %s\n", shape(summary.OutputShape))
			for _, layer := range summary.Head {
				fmt.Fprintf(out, "  %-16s %4d -> %-4d %s\n", layer.Type, layer.Inputs, layer.Outputs, layer.Activation)
			}
			fmt.Fprintf(out, "Parameters:   %d\n", summary.ParameterCount)
			fmt.Fprintf(out, "Classes:      %s\n", strings.Join(summary.ClassNames, ", "))
			return nil
		},
	}
}

func shape(dims []int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, "x") + "]"
}
