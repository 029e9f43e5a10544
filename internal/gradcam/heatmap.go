// Package gradcam turns target-layer activations and gradients into a class
// activation heat map and renders it over the scanned image.
package gradcam

import (
	"fmt"
	"image"
	"math"

	"github.com/jo-hoe/tumorcam/internal/imaging"
	"github.com/jo-hoe/tumorcam/internal/model"
)

// Heatmap is a row-major grid of importance values in [0,1].
type Heatmap struct {
	Width  int
	Height int
	Values []float64
}

func newHeatmap(width, height int) *Heatmap {
	return &Heatmap{Width: width, Height: height, Values: make([]float64, width*height)}
}

// At returns the value at (x, y).
func (h *Heatmap) At(x, y int) float64 { return h.Values[y*h.Width+x] }

// Max returns the largest value.
func (h *Heatmap) Max() float64 {
	m := 0.0
	for _, v := range h.Values {
		m = math.Max(m, v)
	}
	return m
}

// Compute weights every activation channel by its mean gradient, sums the channels,
// clips negative values and normalises by the maximum. A map without any positive
// evidence stays all zero.
func Compute(activations, gradients *model.Tensor) (*Heatmap, error) {
	if activations == nil || gradients == nil {
		return nil, fmt.Errorf("activations and gradients are required")
	}
	if err := activations.Validate(); err != nil {
		return nil, fmt.Errorf("invalid activations: %w", err)
	}
	if !activations.SameShape(gradients) {
		return nil, fmt.Errorf("gradient shape %v does not match activation shape %v", gradients.Shape(), activations.Shape())
	}

	h, w, c := activations.Height, activations.Width, activations.Channels
	cells := float64(h * w)
	weights := make([]float64, c)
	for i, g := range gradients.Data {
		weights[i%c] += float64(g)
	}
	for i := range weights {
		weights[i] /= cells
	}

	heat := newHeatmap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for ch, a := range weights {
				sum += a * float64(activations.At(y, x, ch))
			}
			if sum > 0 && !math.IsInf(sum, 0) {
				heat.Values[y*w+x] = sum
			}
		}
	}

	if m := heat.Max(); m > 0 {
		for i := range heat.Values {
			heat.Values[i] /= m
		}
	}
	return heat, nil
}

// toGray16 quantises the heat map.
func (h *Heatmap) toGray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, h.Width, h.Height))
	for y := 0; y < h.Height; y++ {
		for x := 0; x < h.Width; x++ {
			v := uint16(math.Round(h.At(x, y) * 0xffff))
			img.Pix[y*img.Stride+2*x] = uint8(v >> 8)
			img.Pix[y*img.Stride+2*x+1] = uint8(v)
		}
	}
	return img
}

// Resize scales the heat map bilinearly to width x height.
func (h *Heatmap) Resize(width, height int) *Heatmap {
	if width == h.Width && height == h.Height {
		out := newHeatmap(width, height)
		copy(out.Values, h.Values)
		return out
	}
	scaled := imaging.ResizeGray16(h.toGray16(), width, height)
	out := newHeatmap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*scaled.Stride + 2*x
			out.Values[y*width+x] = float64(uint16(scaled.Pix[i])<<8|uint16(scaled.Pix[i+1])) / 0xffff
		}
	}
	return out
}
