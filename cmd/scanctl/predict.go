package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"
)

type predictOutput struct {
	File             string  `json:"file"`
	Label            string  `json:"label"`
	Prediction       string  `json:"prediction"`
	Confidence       float64 `json:"confidence"`
	TumorProbability float64 `json:"tumor_probability"`
}

func predictCommand(ctx *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "predict [image...]",
		Short: "Classify one or more scans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := ctx.loadClassifier()
			if err != nil {
				return err
			}
			defer func() { _ = classifier.Close() }()

			out := cmd.OutOrStdout()
			results := make([]predictOutput, 0, len(args))
			for _, path := range args {
				img, err := ctx.readImage(path)
				if err != nil {
					return err
				}
				prediction, err := classifier.Predict(img)
				if err != nil {
					return fmt.Errorf("failed to classify %s: %w", path, err)
				}
				result := predictOutput{
					File:             path,
					Label:            string(prediction.Label),
					Prediction:       prediction.Label.DisplayName(),
					Confidence:       math.Round(prediction.Confidence*10000) / 100,
					TumorProbability: prediction.TumorProbability,
				}
				if ctx.JSON {
					results = append(results, result)
					continue
				}
				fmt.Fprintf(out, "%s: %s (%.2f%%)\n", result.File, result.Prediction, result.Confidence)
			}
			if ctx.JSON {
				return writeJSON(out, results)
			}
			return nil
		},
	}
}
