package model

import (
	"fmt"
	"math"
)

// Activation names follow the Keras layer configuration.
type Activation string

const (
	ActivationLinear  Activation = "linear"
	ActivationReLU    Activation = "relu"
	ActivationSigmoid Activation = "sigmoid"
	ActivationSoftmax Activation = "softmax"
)

// DenseLayer is a fully connected layer. Weights are indexed [input][output].
type DenseLayer struct {
	Weights    [][]float32 `json:"weights"`
	Bias       []float32   `json:"bias"`
	Activation Activation  `json:"activation"`
}

// Inputs returns the layer's input width.
func (d *DenseLayer) Inputs() int { return len(d.Weights) }

// Outputs returns the layer's output width.
func (d *DenseLayer) Outputs() int { return len(d.Bias) }

func (d *DenseLayer) validate(inputs int) error {
	if d.Inputs() != inputs {
		return fmt.Errorf("expected %d inputs, weights have %d rows", inputs, d.Inputs())
	}
	if d.Outputs() == 0 {
		return fmt.Errorf("layer has no outputs")
	}
	for i, row := range d.Weights {
		if len(row) != d.Outputs() {
			return fmt.Errorf("weight row %d has %d columns, expected %d", i, len(row), d.Outputs())
		}
	}
	switch d.Activation {
	case ActivationLinear, ActivationReLU, ActivationSigmoid, ActivationSoftmax:
	case "":
		d.Activation = ActivationLinear
	default:
		return fmt.Errorf("unsupported activation %q", d.Activation)
	}
	return nil
}

// Head is the classifier part after the target convolutional layer:
// global average pooling followed by dense layers.
type Head struct {
	layers []DenseLayer
}

// NewHead validates the layer chain for the given number of pooled channels.
// The last layer must be a single sigmoid unit or a two-way softmax.
func NewHead(layers []DenseLayer, channels int) (*Head, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("head has no layers")
	}
	inputs := channels
	for i := range layers {
		if err := layers[i].validate(inputs); err != nil {
			return nil, fmt.Errorf("head layer %d: %w", i, err)
		}
		if i < len(layers)-1 && layers[i].Activation == ActivationSoftmax {
			return nil, fmt.Errorf("head layer %d: softmax is only supported on the output layer", i)
		}
		inputs = layers[i].Outputs()
	}

	last := layers[len(layers)-1]
	switch {
	case last.Outputs() == 1 && last.Activation == ActivationSigmoid:
	case last.Outputs() == 2 && last.Activation == ActivationSoftmax:
	default:
		return nil, fmt.Errorf("output layer must be 1 sigmoid unit or 2 softmax units, got %d %s", last.Outputs(), last.Activation)
	}
	return &Head{layers: layers}, nil
}

// Inputs returns the number of pooled channels the head consumes.
func (h *Head) Inputs() int { return h.layers[0].Inputs() }

// Layers returns a description of each layer as (inputs, outputs, activation).
func (h *Head) Layers() []LayerSummary {
	out := make([]LayerSummary, len(h.layers))
	for i, l := range h.layers {
		out[i] = LayerSummary{
			Type:       "dense",
			Inputs:     l.Inputs(),
			Outputs:    l.Outputs(),
			Activation: string(l.Activation),
		}
	}
	return out
}

// ParameterCount returns the number of weights and biases.
func (h *Head) ParameterCount() int {
	n := 0
	for _, l := range h.layers {
		n += l.Inputs()*l.Outputs() + l.Outputs()
	}
	return n
}

// headTrace keeps per-layer pre-activations and activations for back-propagation.
type headTrace struct {
	z [][]float64
	a [][]float64 // a[0] is the pooled input
}

func (h *Head) forward(pooled []float64) *headTrace {
	tr := &headTrace{a: [][]float64{pooled}}
	in := pooled
	for _, l := range h.layers {
		z := make([]float64, l.Outputs())
		for j := range z {
			z[j] = float64(l.Bias[j])
		}
		for i, x := range in {
			if x == 0 {
				continue
			}
			row := l.Weights[i]
			for j := range z {
				z[j] += x * float64(row[j])
			}
		}
		out := activate(l.Activation, z)
		tr.z = append(tr.z, z)
		tr.a = append(tr.a, out)
		in = out
	}
	return tr
}

// Output returns the final layer's activations for the pooled features.
func (h *Head) Output(pooled []float64) []float64 {
	tr := h.forward(pooled)
	return tr.a[len(tr.a)-1]
}

// Predict maps pooled features to a label and confidence.
func (h *Head) Predict(pooled []float64) Prediction {
	return predictionFromOutput(h.Output(pooled))
}

// ScoreGradient returns d(score)/d(pooled) where score is the output probability of label.
func (h *Head) ScoreGradient(pooled []float64, label Label) ([]float64, error) {
	if !label.Valid() {
		return nil, fmt.Errorf("invalid label %q", label)
	}
	tr := h.forward(pooled)
	last := len(h.layers) - 1
	out := tr.a[last+1]

	// delta holds d(score)/dz for the current layer.
	delta := make([]float64, len(out))
	if len(out) == 1 {
		s := out[0]
		d := s * (1 - s)
		if label == LabelNoTumor {
			d = -d
		}
		delta[0] = d
	} else {
		k := labelIndex(label)
		for j := range out {
			kron := 0.0
			if j == k {
				kron = 1
			}
			delta[j] = out[k] * (kron - out[j])
		}
	}

	for l := last; l >= 0; l-- {
		layer := h.layers[l]
		grad := make([]float64, layer.Inputs())
		for i := range grad {
			row := layer.Weights[i]
			var sum float64
			for j, d := range delta {
				sum += float64(row[j]) * d
			}
			grad[i] = sum
		}
		if l == 0 {
			return grad, nil
		}
		prev := h.layers[l-1]
		for i := range grad {
			grad[i] *= activationDerivative(prev.Activation, tr.z[l-1][i], tr.a[l][i])
		}
		delta = grad
	}
	return nil, fmt.Errorf("head has no layers")
}

func labelIndex(l Label) int {
	if l == LabelTumor {
		return 1
	}
	return 0
}

func predictionFromOutput(out []float64) Prediction {
	if len(out) == 1 {
		p := clamp01(out[0])
		if p > 0.5 {
			return Prediction{Label: LabelTumor, Confidence: p, TumorProbability: p}
		}
		return Prediction{Label: LabelNoTumor, Confidence: 1 - p, TumorProbability: p}
	}
	pNo, pYes := clamp01(out[0]), clamp01(out[1])
	if pYes > pNo {
		return Prediction{Label: LabelTumor, Confidence: pYes, TumorProbability: pYes}
	}
	return Prediction{Label: LabelNoTumor, Confidence: pNo, TumorProbability: pYes}
}

func activate(act Activation, z []float64) []float64 {
	out := make([]float64, len(z))
	switch act {
	case ActivationReLU:
		for i, v := range z {
			out[i] = math.Max(v, 0)
		}
	case ActivationSigmoid:
		for i, v := range z {
			out[i] = sigmoid(v)
		}
	case ActivationSoftmax:
		maxV := math.Inf(-1)
		for _, v := range z {
			maxV = math.Max(maxV, v)
		}
		var sum float64
		for i, v := range z {
			out[i] = math.Exp(v - maxV)
			sum += out[i]
		}
		for i := range out {
			out[i] /= sum
		}
	default:
		copy(out, z)
	}
	return out
}

// activationDerivative is only used for hidden layers, which never use softmax.
func activationDerivative(act Activation, z, a float64) float64 {
	switch act {
	case ActivationReLU:
		if z > 0 {
			return 1
		}
		return 0
	case ActivationSigmoid:
		return a * (1 - a)
	}
	return 1
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
