package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// Weights is the on-disk description of the parts of the network evaluated in Go.
// Backbone is only required by the native backend.
type Weights struct {
	Version  string       `json:"version"`
	Backbone []ConvLayer  `json:"backbone,omitempty"`
	Head     []DenseLayer `json:"head"`

	fingerprint string
}

// LoadWeights reads a JSON weights file.
func LoadWeights(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file %s: %w", path, err)
	}
	w, err := ParseWeights(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse weights file %s: %w", path, err)
	}
	return w, nil
}

// ParseWeights decodes weights from JSON and fingerprints the raw bytes.
func ParseWeights(data []byte) (*Weights, error) {
	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if len(w.Head) == 0 {
		return nil, fmt.Errorf("weights contain no head layers")
	}
	sum := sha256.Sum256(data)
	w.fingerprint = hex.EncodeToString(sum[:8])
	return &w, nil
}

// Fingerprint identifies the weights content; it changes whenever the file does.
func (w *Weights) Fingerprint() string {
	if w.fingerprint == "" {
		data, err := json.Marshal(w)
		if err != nil {
			return "unknown"
		}
		sum := sha256.Sum256(data)
		w.fingerprint = hex.EncodeToString(sum[:8])
	}
	return w.fingerprint
}
