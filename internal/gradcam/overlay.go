package gradcam

import (
	"fmt"
	"image"
	"math"

	"github.com/jo-hoe/tumorcam/internal/imaging"
)

// DefaultAlpha is the weight of the heat map in the blended output.
const DefaultAlpha = 0.4

// Overlay blends heat over original as (1-alpha)*original + alpha*heat.
// Both images must have the same size; the result is opaque.
func Overlay(original, heat image.Image, alpha float64) (*image.RGBA, error) {
	if alpha < 0 || alpha > 1 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("alpha %v outside [0,1]", alpha)
	}
	base := imaging.ToRGBA(original)
	top := imaging.ToRGBA(heat)
	if base.Rect.Dx() != top.Rect.Dx() || base.Rect.Dy() != top.Rect.Dy() {
		return nil, fmt.Errorf("heat map is %dx%d but image is %dx%d",
			top.Rect.Dx(), top.Rect.Dy(), base.Rect.Dx(), base.Rect.Dy())
	}

	out := image.NewRGBA(image.Rect(0, 0, base.Rect.Dx(), base.Rect.Dy()))
	imaging.ParallelRows(out.Rect.Dy(), func(y int) {
		for x := 0; x < out.Rect.Dx(); x++ {
			i := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := (1-alpha)*float64(base.Pix[i+c]) + alpha*float64(top.Pix[i+c])
				out.Pix[i+c] = uint8(math.Round(math.Min(255, v)))
			}
			out.Pix[i+3] = 255
		}
	})
	return out, nil
}
