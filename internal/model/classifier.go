package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"time"
)

// Explanation carries what Grad-CAM needs: the target layer's activations and the
// gradient of the explained class score with respect to them.
type Explanation struct {
	Prediction  Prediction
	Target      Label
	Activations *Tensor
	Gradients   *Tensor
}

// LayerSummary describes one layer of the network.
type LayerSummary struct {
	Type       string `json:"type"`
	Inputs     int    `json:"inputs,omitempty"`
	Outputs    int    `json:"outputs"`
	Activation string `json:"activation,omitempty"`
}

// Summary describes the loaded network.
type Summary struct {
	Backend        string         `json:"backend"`
	Fingerprint    string         `json:"fingerprint"`
	InputShape     []int          `json:"input_shape"`
	FeatureShape   []int          `json:"feature_shape"`
	OutputShape    []int          `json:"output_shape"`
	Head           []LayerSummary `json:"head"`
	ParameterCount int            `json:"parameter_count"`
	ClassNames     []string       `json:"class_names"`
}

// Classifier runs preprocessing, the backbone and the head for a single image.
// It holds no per-request state and is safe for concurrent use when its backbone is.
type Classifier struct {
	backbone    Backbone
	head        *Head
	norm        Normalization
	fingerprint string
}

// NewClassifier wires a backbone to a head. The head's input width must equal the
// backbone's output channels.
func NewClassifier(backbone Backbone, head *Head, norm Normalization, fingerprint string) (*Classifier, error) {
	if backbone == nil || head == nil {
		return nil, fmt.Errorf("backbone and head are required")
	}
	if err := norm.Validate(); err != nil {
		return nil, err
	}
	if _, _, c := backbone.InputShape(); c != 3 {
		return nil, fmt.Errorf("backbone expects %d input channels, only RGB is supported", c)
	}
	if _, _, c := backbone.OutputShape(); c != head.Inputs() {
		return nil, fmt.Errorf("backbone produces %d channels but head expects %d", c, head.Inputs())
	}
	return &Classifier{
		backbone:    backbone,
		head:        head,
		norm:        norm,
		fingerprint: fingerprint,
	}, nil
}

// Load reads the weights, creates the configured backend and assembles a classifier.
// Any failure here is a startup failure.
func Load(cfg Config, registry *BackendRegistry) (*Classifier, error) {
	if registry == nil {
		registry = DefaultRegistry
	}
	if !registry.IsRegistered(cfg.Backend) {
		return nil, fmt.Errorf("unknown model backend %q (registered: %v)", cfg.Backend, registry.Names())
	}
	start := time.Now()

	weights, err := LoadWeights(cfg.WeightsPath)
	if err != nil {
		return nil, err
	}
	backbone, err := registry.Create(cfg.Backend, cfg, weights)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backbone: %w", cfg.Backend, err)
	}
	_, _, channels := backbone.OutputShape()
	head, err := NewHead(weights.Head, channels)
	if err != nil {
		_ = backbone.Close()
		return nil, fmt.Errorf("invalid head: %w", err)
	}

	fingerprint := cfg.Backend + "-" + weights.Fingerprint()
	if cfg.ModelPath != "" {
		sum, err := fileDigest(cfg.ModelPath)
		if err != nil {
			_ = backbone.Close()
			return nil, err
		}
		fingerprint += "-" + sum
	}

	classifier, err := NewClassifier(backbone, head, cfg.Norm, fingerprint)
	if err != nil {
		_ = backbone.Close()
		return nil, err
	}

	h, w, c := backbone.InputShape()
	fh, fw, fc := backbone.OutputShape()
	slog.Info("model loaded",
		"backend", backbone.Name(),
		"weights", cfg.WeightsPath,
		"input_shape", []int{1, h, w, c},
		"feature_shape", []int{1, fh, fw, fc},
		"fingerprint", fingerprint,
		"duration", time.Since(start))
	return classifier, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open model file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read model file %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)[:8]), nil
}

// Fingerprint identifies the model; predictions are reproducible for a given fingerprint.
func (c *Classifier) Fingerprint() string { return c.fingerprint }

// Features preprocesses img and returns the target layer's activations.
func (c *Classifier) Features(img image.Image) (*Tensor, error) {
	h, w, _ := c.backbone.InputShape()
	input, err := Preprocess(img, w, h, c.norm)
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess image: %w", err)
	}
	features, err := c.backbone.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %w", err)
	}
	if err := features.Validate(); err != nil {
		return nil, fmt.Errorf("backbone returned invalid activations: %w", err)
	}
	if features.Channels != c.head.Inputs() {
		return nil, fmt.Errorf("backbone returned %d channels, head expects %d", features.Channels, c.head.Inputs())
	}
	return features, nil
}

// Predict classifies a decoded image.
func (c *Classifier) Predict(img image.Image) (Prediction, error) {
	features, err := c.Features(img)
	if err != nil {
		return Prediction{}, err
	}
	p := c.head.Predict(features.GlobalAveragePool())
	if err := p.Validate(); err != nil {
		return Prediction{}, fmt.Errorf("model produced an invalid prediction: %w", err)
	}
	return p, nil
}

// Explain classifies img and computes the gradient of target's score with respect to the
// target layer. An empty target explains the predicted label.
func (c *Classifier) Explain(img image.Image, target Label) (*Explanation, error) {
	features, err := c.Features(img)
	if err != nil {
		return nil, err
	}
	pooled := features.GlobalAveragePool()
	p := c.head.Predict(pooled)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("model produced an invalid prediction: %w", err)
	}
	if target == "" {
		target = p.Label
	}

	grad, err := c.head.ScoreGradient(pooled, target)
	if err != nil {
		return nil, err
	}

	// Global average pooling spreads each channel gradient evenly over all cells.
	cells := float64(features.Height * features.Width)
	gradients := NewTensor(features.Height, features.Width, features.Channels)
	for i := range gradients.Data {
		gradients.Data[i] = float32(grad[i%features.Channels] / cells)
	}

	return &Explanation{
		Prediction:  p,
		Target:      target,
		Activations: features,
		Gradients:   gradients,
	}, nil
}

// Summary describes the network.
func (c *Classifier) Summary() Summary {
	h, w, ch := c.backbone.InputShape()
	fh, fw, fc := c.backbone.OutputShape()
	layers := c.head.Layers()
	names := make([]string, len(Labels))
	for i, l := range Labels {
		names[i] = l.DisplayName()
	}
	return Summary{
		Backend:        c.backbone.Name(),
		Fingerprint:    c.fingerprint,
		InputShape:     []int{1, h, w, ch},
		FeatureShape:   []int{1, fh, fw, fc},
		OutputShape:    []int{1, layers[len(layers)-1].Outputs},
		Head:           layers,
		ParameterCount: c.backbone.ParameterCount() + c.head.ParameterCount(),
		ClassNames:     names,
	}
}

// Close releases the backbone.
func (c *Classifier) Close() error {
	return c.backbone.Close()
}
