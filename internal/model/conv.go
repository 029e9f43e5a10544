package model

import (
	"fmt"
	"math"

	"github.com/jo-hoe/tumorcam/internal/imaging"
)

// Layer types understood by ConvBackbone.
const (
	LayerConv2D  = "conv2d"
	LayerMaxPool = "maxpool"
)

// ConvLayer describes one stage of the native backbone.
// Conv kernels are indexed [row][col][inChannel][outChannel] and use valid padding with stride 1.
type ConvLayer struct {
	Type       string          `json:"type"`
	Kernel     [][][][]float32 `json:"kernel,omitempty"`
	Bias       []float32       `json:"bias,omitempty"`
	Activation Activation      `json:"activation,omitempty"`
	PoolSize   int             `json:"pool_size,omitempty"`
}

func (l *ConvLayer) kernelSize() (int, int) {
	if len(l.Kernel) == 0 {
		return 0, 0
	}
	return len(l.Kernel), len(l.Kernel[0])
}

// outputShape validates the layer against its input shape and returns the output shape.
func (l *ConvLayer) outputShape(h, w, c int) (int, int, int, error) {
	switch l.Type {
	case LayerConv2D:
		kh, kw := l.kernelSize()
		if kh == 0 || kw == 0 {
			return 0, 0, 0, fmt.Errorf("conv2d kernel is empty")
		}
		out := len(l.Bias)
		if out == 0 {
			return 0, 0, 0, fmt.Errorf("conv2d has no output channels")
		}
		for _, row := range l.Kernel {
			if len(row) != kw {
				return 0, 0, 0, fmt.Errorf("conv2d kernel rows have differing widths")
			}
			for _, taps := range row {
				if len(taps) != c {
					return 0, 0, 0, fmt.Errorf("conv2d kernel expects %d input channels, input has %d", len(taps), c)
				}
				for _, outs := range taps {
					if len(outs) != out {
						return 0, 0, 0, fmt.Errorf("conv2d kernel has %d output channels, bias has %d", len(outs), out)
					}
				}
			}
		}
		switch l.Activation {
		case "":
			l.Activation = ActivationLinear
		case ActivationLinear, ActivationReLU, ActivationSigmoid:
		default:
			return 0, 0, 0, fmt.Errorf("unsupported conv2d activation %q", l.Activation)
		}
		oh, ow := h-kh+1, w-kw+1
		if oh <= 0 || ow <= 0 {
			return 0, 0, 0, fmt.Errorf("conv2d kernel %dx%d larger than input %dx%d", kh, kw, h, w)
		}
		return oh, ow, out, nil
	case LayerMaxPool:
		p := l.PoolSize
		if p == 0 {
			p = 2
			l.PoolSize = p
		}
		if p < 1 {
			return 0, 0, 0, fmt.Errorf("invalid pool size %d", p)
		}
		oh, ow := h/p, w/p
		if oh <= 0 || ow <= 0 {
			return 0, 0, 0, fmt.Errorf("pool size %d larger than input %dx%d", p, h, w)
		}
		return oh, ow, c, nil
	}
	return 0, 0, 0, fmt.Errorf("unknown layer type %q", l.Type)
}

// ConvBackbone is a small pure-Go convolutional feature extractor.
// Its output is the target layer used for Grad-CAM.
type ConvBackbone struct {
	layers                  []ConvLayer
	inH, inW                int
	outH, outW, outChannels int
	params                  int
}

// NewConvBackbone validates the layer stack for an RGB input of the given size.
func NewConvBackbone(layers []ConvLayer, height, width int) (*ConvBackbone, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("backbone has no layers")
	}
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", width, height)
	}
	h, w, c := height, width, 3
	params := 0
	for i := range layers {
		var err error
		h, w, c, err = layers[i].outputShape(h, w, c)
		if err != nil {
			return nil, fmt.Errorf("backbone layer %d: %w", i, err)
		}
		if layers[i].Type == LayerConv2D {
			kh, kw := layers[i].kernelSize()
			params += kh*kw*len(layers[i].Kernel[0][0])*c + c
		}
	}
	return &ConvBackbone{
		layers:      layers,
		inH:         height,
		inW:         width,
		outH:        h,
		outW:        w,
		outChannels: c,
		params:      params,
	}, nil
}

func (b *ConvBackbone) Name() string { return "native" }

func (b *ConvBackbone) InputShape() (int, int, int) { return b.inH, b.inW, 3 }

func (b *ConvBackbone) OutputShape() (int, int, int) { return b.outH, b.outW, b.outChannels }

func (b *ConvBackbone) ParameterCount() int { return b.params }

// Forward runs the layer stack and returns the last layer's activations.
func (b *ConvBackbone) Forward(input *Tensor) (*Tensor, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if input.Height != b.inH || input.Width != b.inW || input.Channels != 3 {
		return nil, fmt.Errorf("input shape %v does not match backbone input [1 %d %d 3]", input.Shape(), b.inH, b.inW)
	}
	x := input
	for i := range b.layers {
		l := &b.layers[i]
		switch l.Type {
		case LayerConv2D:
			x = conv2D(x, l)
		case LayerMaxPool:
			x = maxPool(x, l.PoolSize)
		}
	}
	return x, nil
}

func (b *ConvBackbone) Close() error { return nil }

func conv2D(in *Tensor, l *ConvLayer) *Tensor {
	kh, kw := l.kernelSize()
	outC := len(l.Bias)
	out := NewTensor(in.Height-kh+1, in.Width-kw+1, outC)

	imaging.ParallelRows(out.Height, func(y int) {
		acc := make([]float64, outC)
		for x := 0; x < out.Width; x++ {
			for o := range acc {
				acc[o] = float64(l.Bias[o])
			}
			for ky := 0; ky < kh; ky++ {
				for kx := 0; kx < kw; kx++ {
					base := in.index(y+ky, x+kx, 0)
					taps := l.Kernel[ky][kx]
					for ci, weights := range taps {
						v := float64(in.Data[base+ci])
						if v == 0 {
							continue
						}
						for o, w := range weights {
							acc[o] += v * float64(w)
						}
					}
				}
			}
			dst := out.index(y, x, 0)
			for o, v := range acc {
				out.Data[dst+o] = float32(applyScalar(l.Activation, v))
			}
		}
	})
	return out
}

func maxPool(in *Tensor, p int) *Tensor {
	out := NewTensor(in.Height/p, in.Width/p, in.Channels)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			for c := 0; c < in.Channels; c++ {
				m := float32(math.Inf(-1))
				for dy := 0; dy < p; dy++ {
					for dx := 0; dx < p; dx++ {
						if v := in.At(y*p+dy, x*p+dx, c); v > m {
							m = v
						}
					}
				}
				out.Set(y, x, c, m)
			}
		}
	}
	return out
}

func applyScalar(act Activation, v float64) float64 {
	switch act {
	case ActivationReLU:
		return math.Max(v, 0)
	case ActivationSigmoid:
		return sigmoid(v)
	}
	return v
}
