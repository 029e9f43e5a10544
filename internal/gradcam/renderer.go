package gradcam

import (
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/jo-hoe/tumorcam/internal/model"
)

// Options control how the overlay is rendered.
type Options struct {
	Alpha  float64
	Legend bool
}

// DefaultOptions blends at DefaultAlpha without a legend.
func DefaultOptions() Options {
	return Options{Alpha: DefaultAlpha}
}

// Result is a rendered overlay together with the low resolution heat map.
type Result struct {
	Image   *image.RGBA
	Heatmap *Heatmap
	Target  model.Label
}

// Renderer produces Grad-CAM overlays. It is stateless and safe for concurrent use.
type Renderer struct {
	opts Options
}

// NewRenderer validates opts.
func NewRenderer(opts Options) (*Renderer, error) {
	if opts.Alpha < 0 || opts.Alpha > 1 {
		return nil, fmt.Errorf("gradcam alpha %v outside [0,1]", opts.Alpha)
	}
	return &Renderer{opts: opts}, nil
}

// Render computes the heat map for exp, scales it to original and blends it in.
// The result has the dimensions of original.
func (r *Renderer) Render(original image.Image, exp *model.Explanation) (*Result, error) {
	if exp == nil {
		return nil, fmt.Errorf("explanation is required")
	}
	start := time.Now()

	heat, err := Compute(exp.Activations, exp.Gradients)
	if err != nil {
		return nil, err
	}
	bounds := original.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("image is empty")
	}
	colored := Colorize(heat.Resize(bounds.Dx(), bounds.Dy()))

	out, err := Overlay(original, colored, r.opts.Alpha)
	if err != nil {
		return nil, err
	}
	if r.opts.Legend {
		if err := drawLegend(out); err != nil {
			return nil, err
		}
	}

	slog.Debug("Grad-CAM rendered",
		"target", exp.Target,
		"width", bounds.Dx(),
		"height", bounds.Dy(),
		"peak", heat.Max(),
		"duration", time.Since(start))
	return &Result{Image: out, Heatmap: heat, Target: exp.Target}, nil
}
