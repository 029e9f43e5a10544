package gradcam

import (
	"image"
	"image/color"
	"math"

	"github.com/jo-hoe/tumorcam/internal/imaging"
)

type segment struct{ x, y float64 }

// Jet colormap anchor points per channel.
var (
	jetRed   = []segment{{0, 0}, {0.35, 0}, {0.66, 1}, {0.89, 1}, {1, 0.5}}
	jetGreen = []segment{{0, 0}, {0.125, 0}, {0.375, 1}, {0.64, 1}, {0.91, 0}, {1, 0}}
	jetBlue  = []segment{{0, 0.5}, {0.11, 1}, {0.34, 1}, {0.65, 0}, {1, 0}}
)

func interpolate(segments []segment, v float64) float64 {
	if v <= segments[0].x {
		return segments[0].y
	}
	for i := 1; i < len(segments); i++ {
		lo, hi := segments[i-1], segments[i]
		if v <= hi.x {
			return lo.y + (v-lo.x)*(hi.y-lo.y)/(hi.x-lo.x)
		}
	}
	return segments[len(segments)-1].y
}

func channel(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// Jet maps v in [0,1] from dark blue through cyan, yellow and red to dark red.
func Jet(v float64) color.RGBA {
	if math.IsNaN(v) {
		v = 0
	}
	v = math.Max(0, math.Min(1, v))
	return color.RGBA{
		R: channel(interpolate(jetRed, v)),
		G: channel(interpolate(jetGreen, v)),
		B: channel(interpolate(jetBlue, v)),
		A: 255,
	}
}

// Colorize renders the heat map with the jet colormap.
func Colorize(h *Heatmap) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, h.Width, h.Height))
	imaging.ParallelRows(h.Height, func(y int) {
		for x := 0; x < h.Width; x++ {
			c := Jet(h.At(x, y))
			i := img.PixOffset(x, y)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
		}
	})
	return img
}
