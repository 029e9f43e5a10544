package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/tumorcam/internal/gradcam"
	"github.com/jo-hoe/tumorcam/internal/imaging"
	"github.com/jo-hoe/tumorcam/internal/model"
)

type gradcamFlags struct {
	output string
	target string
	alpha  float64
	legend bool
}

func gradcamCommand(ctx *Context) *cobra.Command {
	flags := &gradcamFlags{}
	cmd := &cobra.Command{
		Use:   "gradcam [image]",
		Short: "Write a Grad-CAM overlay for a scan",
		Long:  `Classify a scan and write the Grad-CAM overlay of the predicted label (or --target) as PNG.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGradCAM(cmd, ctx, flags, args[0])
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output PNG path (default gradcam_<name>.png next to the input)")
	cmd.Flags().StringVarP(&flags.target, "target", "t", "", "Label to explain: tumor or no_tumor (default predicted label)")
	cmd.Flags().Float64Var(&flags.alpha, "alpha", 0, "Heat map opacity in [0,1] (default from config)")
	cmd.Flags().BoolVar(&flags.legend, "legend", false, "Draw the colour bar legend")
	return cmd
}

func runGradCAM(cmd *cobra.Command, ctx *Context, flags *gradcamFlags, path string) error {
	opts := gradcam.Options{Alpha: ctx.Config.GradCAM.Alpha, Legend: ctx.Config.GradCAM.Legend || flags.legend}
	if cmd.Flags().Changed("alpha") {
		opts.Alpha = flags.alpha
	}
	renderer, err := gradcam.NewRenderer(opts)
	if err != nil {
		return err
	}

	img, err := ctx.readImage(path)
	if err != nil {
		return err
	}
	classifier, err := ctx.loadClassifier()
	if err != nil {
		return err
	}
	defer func() { _ = classifier.Close() }()

	var target model.Label
	if flags.target != "" {
		if target, err = model.ParseLabel(flags.target); err != nil {
			return err
		}
	} else {
		prediction, err := classifier.Predict(img)
		if err != nil {
			return fmt.Errorf("failed to classify %s: %w", path, err)
		}
		target = prediction.Label
	}

	exp, err := classifier.Explain(img, target)
	if err != nil {
		return fmt.Errorf("failed to explain %s: %w", path, err)
	}
	result, err := renderer.Render(img, exp)
	if err != nil {
		return err
	}
	data, err := imaging.EncodePNG(result.Image)
	if err != nil {
		return err
	}

	output := flags.output
	if output == "" {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		output = filepath.Join(filepath.Dir(path), "gradcam_"+base+".png")
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	if ctx.JSON {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"file":   path,
			"output": output,
			"target": target,
			"width":  result.Image.Rect.Dx(),
			"height": result.Image.Rect.Dy(),
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s overlay written to %s\n", path, target.DisplayName(), output)
	return nil
}
