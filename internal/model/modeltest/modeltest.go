// Package modeltest provides a tiny deterministic network and sample scans for tests.
package modeltest

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/jo-hoe/tumorcam/internal/model"
)

// InputSize is the square input resolution of the test network.
const InputSize = 32

// Weights returns a two-conv backbone with a brightness and an edge channel and a
// dense head that favours "tumor" for bright, high-contrast regions.
func Weights() *model.Weights {
	conv1 := make([][][][]float32, 3)
	for ky := range conv1 {
		conv1[ky] = make([][][]float32, 3)
		for kx := range conv1[ky] {
			conv1[ky][kx] = make([][]float32, 3)
			for c := range conv1[ky][kx] {
				edge := float32(-1.0 / 24)
				if ky == 1 && kx == 1 {
					edge = 1.0 / 3
				}
				conv1[ky][kx][c] = []float32{1.0 / 27, edge}
			}
		}
	}

	conv2 := make([][][][]float32, 3)
	for ky := range conv2 {
		conv2[ky] = make([][][]float32, 3)
		for kx := range conv2[ky] {
			if ky == 1 && kx == 1 {
				conv2[ky][kx] = [][]float32{{1, 0}, {0, 1}}
			} else {
				conv2[ky][kx] = [][]float32{{0, 0}, {0, 0}}
			}
		}
	}

	return &model.Weights{
		Version: "modeltest-1",
		Backbone: []model.ConvLayer{
			{Type: model.LayerConv2D, Kernel: conv1, Bias: []float32{0, 0}, Activation: model.ActivationReLU},
			{Type: model.LayerMaxPool, PoolSize: 2},
			{Type: model.LayerConv2D, Kernel: conv2, Bias: []float32{0.01, 0}, Activation: model.ActivationReLU},
		},
		Head: []model.DenseLayer{
			{
				Weights: [][]float32{
					{1, 0.5, 0, 0.2},
					{0, 0.5, 1, 0.2},
				},
				Bias:       []float32{0, 0, 0, 0.05},
				Activation: model.ActivationReLU,
			},
			{
				Weights:    [][]float32{{2}, {1}, {6}, {-1}},
				Bias:       []float32{-1.5},
				Activation: model.ActivationSigmoid,
			},
		},
	}
}

// WeightsJSON returns Weights encoded as a weights file.
func WeightsJSON(tb testing.TB) []byte {
	tb.Helper()
	data, err := json.Marshal(Weights())
	if err != nil {
		tb.Fatalf("failed to encode test weights: %v", err)
	}
	return data
}

// WriteWeights stores the test weights in a temporary directory and returns the path.
func WriteWeights(tb testing.TB) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "weights.json")
	if err := os.WriteFile(path, WeightsJSON(tb), 0o644); err != nil {
		tb.Fatalf("failed to write test weights: %v", err)
	}
	return path
}

// Config returns a native backend configuration for weightsPath.
func Config(weightsPath string) model.Config {
	return model.Config{
		Backend:     "native",
		WeightsPath: weightsPath,
		InputWidth:  InputSize,
		InputHeight: InputSize,
		Threads:     1,
		Norm:        model.DefaultNormalization(),
	}
}

// NewClassifier builds the test network.
func NewClassifier(tb testing.TB) *model.Classifier {
	tb.Helper()
	w := Weights()
	backbone, err := model.NewConvBackbone(w.Backbone, InputSize, InputSize)
	if err != nil {
		tb.Fatalf("failed to build test backbone: %v", err)
	}
	_, _, channels := backbone.OutputShape()
	head, err := model.NewHead(w.Head, channels)
	if err != nil {
		tb.Fatalf("failed to build test head: %v", err)
	}
	c, err := model.NewClassifier(backbone, head, model.DefaultNormalization(), "native-"+w.Fingerprint())
	if err != nil {
		tb.Fatalf("failed to build test classifier: %v", err)
	}
	return c
}

// UniformImage returns a flat grey image.
func UniformImage(width, height int, gray uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = gray, gray, gray, 255
	}
	return img
}

// SpotImage returns a dark scan with a bright disc centred at (cx, cy).
func SpotImage(width, height, cx, cy, radius int) *image.RGBA {
	img := UniformImage(width, height, 20)
	r2 := radius * radius
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r2 {
				img.SetRGBA(x, y, color.RGBA{240, 240, 240, 255})
			}
		}
	}
	return img
}

// PNG encodes img.
func PNG(tb testing.TB, img image.Image) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}
