package model

import "fmt"

// Tensor is a dense float32 tensor in height-width-channel order with an implicit batch of one.
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(height, width, channels int) *Tensor {
	return &Tensor{
		Height:   height,
		Width:    width,
		Channels: channels,
		Data:     make([]float32, height*width*channels),
	}
}

func (t *Tensor) index(y, x, c int) int {
	return (y*t.Width+x)*t.Channels + c
}

// At returns the value at row y, column x, channel c.
func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[t.index(y, x, c)]
}

// Set stores v at row y, column x, channel c.
func (t *Tensor) Set(y, x, c int, v float32) {
	t.Data[t.index(y, x, c)] = v
}

// Shape returns the NHWC shape including the batch dimension.
func (t *Tensor) Shape() []int {
	return []int{1, t.Height, t.Width, t.Channels}
}

// SameShape reports whether o has the same dimensions as t.
func (t *Tensor) SameShape(o *Tensor) bool {
	return o != nil && t.Height == o.Height && t.Width == o.Width && t.Channels == o.Channels
}

// Validate checks that the backing slice matches the declared dimensions.
func (t *Tensor) Validate() error {
	if t.Height <= 0 || t.Width <= 0 || t.Channels <= 0 {
		return fmt.Errorf("invalid tensor shape %v", t.Shape())
	}
	if len(t.Data) != t.Height*t.Width*t.Channels {
		return fmt.Errorf("tensor data length %d does not match shape %v", len(t.Data), t.Shape())
	}
	return nil
}

// GlobalAveragePool averages every channel over the spatial dimensions.
func (t *Tensor) GlobalAveragePool() []float64 {
	pooled := make([]float64, t.Channels)
	for i, v := range t.Data {
		pooled[i%t.Channels] += float64(v)
	}
	n := float64(t.Height * t.Width)
	for c := range pooled {
		pooled[c] /= n
	}
	return pooled
}
