package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sigmoidHead(t *testing.T) *Head {
	t.Helper()
	h, err := NewHead([]DenseLayer{
		{
			Weights:    [][]float32{{0.8, -0.3, 0.5}, {0.2, 0.9, -0.4}},
			Bias:       []float32{0.1, 0.05, 0.2},
			Activation: ActivationReLU,
		},
		{
			Weights:    [][]float32{{1.2}, {-0.7}, {0.9}},
			Bias:       []float32{-0.3},
			Activation: ActivationSigmoid,
		},
	}, 2)
	require.NoError(t, err)
	return h
}

func softmaxHead(t *testing.T) *Head {
	t.Helper()
	h, err := NewHead([]DenseLayer{
		{
			Weights:    [][]float32{{0.6, -0.2}, {0.1, 0.7}, {-0.5, 0.3}},
			Bias:       []float32{0.05, -0.1},
			Activation: ActivationSigmoid,
		},
		{
			Weights:    [][]float32{{1.5, -1.0}, {-0.8, 1.1}},
			Bias:       []float32{0.0, 0.2},
			Activation: ActivationSoftmax,
		},
	}, 3)
	require.NoError(t, err)
	return h
}

func TestNewHead_Validation(t *testing.T) {
	tests := []struct {
		name     string
		layers   []DenseLayer
		channels int
	}{
		{"no layers", nil, 2},
		{"input mismatch", []DenseLayer{{Weights: [][]float32{{1}}, Bias: []float32{0}, Activation: ActivationSigmoid}}, 2},
		{"ragged weights", []DenseLayer{{Weights: [][]float32{{1}, {1, 2}}, Bias: []float32{0}, Activation: ActivationSigmoid}}, 2},
		{"unknown activation", []DenseLayer{{Weights: [][]float32{{1}}, Bias: []float32{0}, Activation: "tanh"}}, 1},
		{"linear output", []DenseLayer{{Weights: [][]float32{{1}}, Bias: []float32{0}, Activation: ActivationLinear}}, 1},
		{"three way softmax", []DenseLayer{{Weights: [][]float32{{1, 1, 1}}, Bias: []float32{0, 0, 0}, Activation: ActivationSoftmax}}, 1},
		{"hidden softmax", []DenseLayer{
			{Weights: [][]float32{{1, 1}}, Bias: []float32{0, 0}, Activation: ActivationSoftmax},
			{Weights: [][]float32{{1}, {1}}, Bias: []float32{0}, Activation: ActivationSigmoid},
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHead(tt.layers, tt.channels)
			assert.Error(t, err)
		})
	}
}

func TestNewHead_DefaultsEmptyActivationToLinear(t *testing.T) {
	h, err := NewHead([]DenseLayer{
		{Weights: [][]float32{{1}}, Bias: []float32{0}},
		{Weights: [][]float32{{1}}, Bias: []float32{0}, Activation: ActivationSigmoid},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, "linear", h.Layers()[0].Activation)
	assert.Equal(t, 1+1+1+1, h.ParameterCount())
}

func TestPredictionFromOutput(t *testing.T) {
	tests := []struct {
		name      string
		out       []float64
		wantLabel Label
		wantConf  float64
		wantTumor float64
	}{
		{"sigmoid tumor", []float64{0.9}, LabelTumor, 0.9, 0.9},
		{"sigmoid no tumor", []float64{0.2}, LabelNoTumor, 0.8, 0.2},
		{"sigmoid boundary", []float64{0.5}, LabelNoTumor, 0.5, 0.5},
		{"softmax tumor", []float64{0.3, 0.7}, LabelTumor, 0.7, 0.7},
		{"softmax no tumor", []float64{0.6, 0.4}, LabelNoTumor, 0.6, 0.4},
		{"softmax tie", []float64{0.5, 0.5}, LabelNoTumor, 0.5, 0.5},
		{"nan clamps", []float64{math.NaN()}, LabelNoTumor, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := predictionFromOutput(tt.out)
			assert.Equal(t, tt.wantLabel, p.Label)
			assert.InDelta(t, tt.wantConf, p.Confidence, 1e-12)
			assert.InDelta(t, tt.wantTumor, p.TumorProbability, 1e-12)
			assert.NoError(t, p.Validate())
		})
	}
}

func TestActivate_SoftmaxIsStable(t *testing.T) {
	out := activate(ActivationSoftmax, []float64{1000, 1000})
	assert.InDelta(t, 0.5, out[0], 1e-12)
	assert.InDelta(t, 0.5, out[1], 1e-12)
}

// scoreOf returns the probability of label for the head output.
func scoreOf(h *Head, pooled []float64, label Label) float64 {
	out := h.Output(pooled)
	if len(out) == 1 {
		if label == LabelTumor {
			return out[0]
		}
		return 1 - out[0]
	}
	return out[labelIndex(label)]
}

func TestScoreGradient_MatchesFiniteDifferences(t *testing.T) {
	heads := map[string]struct {
		head   *Head
		pooled []float64
	}{
		"sigmoid": {sigmoidHead(t), []float64{0.4, 0.7}},
		"softmax": {softmaxHead(t), []float64{0.3, 0.8, 0.5}},
	}
	const eps = 1e-6
	for name, tc := range heads {
		for _, label := range Labels {
			t.Run(name+"/"+string(label), func(t *testing.T) {
				grad, err := tc.head.ScoreGradient(tc.pooled, label)
				require.NoError(t, err)
				require.Len(t, grad, len(tc.pooled))

				for i := range tc.pooled {
					plus := append([]float64(nil), tc.pooled...)
					minus := append([]float64(nil), tc.pooled...)
					plus[i] += eps
					minus[i] -= eps
					numeric := (scoreOf(tc.head, plus, label) - scoreOf(tc.head, minus, label)) / (2 * eps)
					assert.InDelta(t, numeric, grad[i], 1e-6, "component %d", i)
				}
			})
		}
	}
}

func TestScoreGradient_LabelsAreOpposite(t *testing.T) {
	h := sigmoidHead(t)
	pooled := []float64{0.4, 0.7}
	gTumor, err := h.ScoreGradient(pooled, LabelTumor)
	require.NoError(t, err)
	gNo, err := h.ScoreGradient(pooled, LabelNoTumor)
	require.NoError(t, err)
	for i := range gTumor {
		assert.InDelta(t, -gTumor[i], gNo[i], 1e-12)
	}

	_, err = h.ScoreGradient(pooled, Label("maybe"))
	assert.Error(t, err)
}

func TestTensor_GlobalAveragePool(t *testing.T) {
	tensor := NewTensor(2, 2, 2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			tensor.Set(y, x, 0, float32(y*2+x))
			tensor.Set(y, x, 1, 1)
		}
	}
	pooled := tensor.GlobalAveragePool()
	assert.InDelta(t, 1.5, pooled[0], 1e-9)
	assert.InDelta(t, 1.0, pooled[1], 1e-9)
	assert.Equal(t, []int{1, 2, 2, 2}, tensor.Shape())
	assert.NoError(t, tensor.Validate())

	bad := &Tensor{Height: 2, Width: 2, Channels: 1, Data: make([]float32, 3)}
	assert.Error(t, bad.Validate())
}

func TestParseLabel(t *testing.T) {
	l, err := ParseLabel("tumor")
	require.NoError(t, err)
	assert.Equal(t, LabelTumor, l)
	assert.Equal(t, "Tumor Present", l.DisplayName())
	assert.Equal(t, "No Tumor", LabelNoTumor.DisplayName())

	_, err = ParseLabel("Tumor Present")
	assert.Error(t, err)
}
