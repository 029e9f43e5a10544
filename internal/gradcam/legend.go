package gradcam

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const legendStops = 32

// legendSVG draws a vertical colour bar, high values at the top.
func legendSVG() []byte {
	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="20" height="100" viewBox="0 0 20 100">`)
	step := 100.0 / legendStops
	for i := 0; i < legendStops; i++ {
		c := Jet(1 - (float64(i)+0.5)/legendStops)
		fmt.Fprintf(&b, `<rect x="0" y="%.4f" width="20" height="%.4f" fill="#%02x%02x%02x"/>`,
			float64(i)*step, step+0.05, c.R, c.G, c.B)
	}
	b.WriteString(`<rect x="0.5" y="0.5" width="19" height="99" fill="none" stroke="#ffffff" stroke-width="1"/>`)
	b.WriteString(`</svg>`)
	return []byte(b.String())
}

// renderLegend rasterizes the colour bar at the given size.
func renderLegend(width, height int) (*image.RGBA, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(legendSVG()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse legend: %w", err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, dst, dst.Bounds())
	dasher := rasterx.NewDasher(width, height, scanner)
	icon.Draw(dasher, 1.0)
	return dst, nil
}

// drawLegend places the colour bar in the bottom right corner. Images too small to
// hold a readable bar are left unchanged.
func drawLegend(img *image.RGBA) error {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w < 64 || h < 64 {
		return nil
	}
	height := h / 3
	width := max(6, height/5)
	margin := max(2, w/50)

	legend, err := renderLegend(width, height)
	if err != nil {
		return err
	}
	at := image.Rect(w-margin-width, h-margin-height, w-margin, h-margin).Add(img.Rect.Min)
	draw.Draw(img, at, legend, image.Point{}, draw.Over)
	return nil
}
