package model

import (
	"fmt"
	"image"

	"github.com/jo-hoe/tumorcam/internal/imaging"
)

// Normalization maps 8-bit RGB samples to model input values as (v/255 - Mean[c]) / Std[c].
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// DefaultNormalization scales pixel values to [0, 1].
func DefaultNormalization() Normalization {
	return Normalization{Std: [3]float32{1, 1, 1}}
}

// Validate rejects zero standard deviations.
func (n Normalization) Validate() error {
	for c, s := range n.Std {
		if s == 0 {
			return fmt.Errorf("normalization std for channel %d must not be zero", c)
		}
	}
	return nil
}

// Preprocess resizes img to width x height and converts it to a normalized RGB tensor.
// Transparency is dropped; colour channels keep their stored, non-premultiplied values.
func Preprocess(img image.Image, width, height int, norm Normalization) (*Tensor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", width, height)
	}
	if err := norm.Validate(); err != nil {
		return nil, err
	}

	resized := imaging.Resize(img, width, height)
	t := NewTensor(height, width, 3)

	var scale, offset [3]float32
	for c := 0; c < 3; c++ {
		scale[c] = 1 / (255 * norm.Std[c])
		offset[c] = norm.Mean[c] / norm.Std[c]
	}

	imaging.ParallelRows(height, func(y int) {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < width; x++ {
			px := row[x*4:]
			base := (y*width + x) * 3
			for c := 0; c < 3; c++ {
				t.Data[base+c] = float32(px[c])*scale[c] - offset[c]
			}
		}
	})
	return t, nil
}
