package imaging

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ToRGBA returns img as an opaque *image.RGBA anchored at the origin, copying only when
// needed. Transparency is dropped and the colour channels keep their stored values.
func ToRGBA(img image.Image) *image.RGBA {
	if !isOpaque(img) {
		return flatten(img)
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

// flatten copies the non-premultiplied colour of every pixel into an opaque image.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	ParallelRows(b.Dy(), func(y int) {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			px := row[x*4 : x*4+4]
			switch src := img.(type) {
			case *image.NRGBA:
				copy(px, src.Pix[src.PixOffset(b.Min.X+x, b.Min.Y+y):][:3])
			case *image.NRGBA64:
				i := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				px[0], px[1], px[2] = src.Pix[i], src.Pix[i+2], src.Pix[i+4]
			default:
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				px[0], px[1], px[2] = c.R, c.G, c.B
			}
			px[3] = 0xff
		}
	})
	return dst
}

// Resize scales img to exactly width x height using bilinear interpolation.
// The aspect ratio is not preserved; the classifier expects a fixed input grid.
// Transparency is dropped as in ToRGBA.
func Resize(img image.Image, width, height int) *image.RGBA {
	if !isOpaque(img) {
		img = flatten(img)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// ResizeGray16 scales a single-channel map with bilinear interpolation.
func ResizeGray16(src *image.Gray16, width, height int) *image.Gray16 {
	dst := image.NewGray16(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Thumbnail scales img to the given width while preserving the aspect ratio.
// Images already narrower than width are returned unchanged.
func Thumbnail(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || b.Dx() <= width {
		return img
	}
	w, h := computeScaledDimensions(b.Dx(), b.Dy(), width)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func computeScaledDimensions(originalWidth, originalHeight, targetWidth int) (int, int) {
	aspect := float64(originalWidth) / float64(originalHeight)
	h := int(float64(targetWidth)/aspect + 0.5)
	if h < 1 {
		h = 1
	}
	return targetWidth, h
}
