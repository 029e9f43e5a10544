package model

import "fmt"

// Label is the two-valued classifier outcome.
type Label string

const (
	LabelNoTumor Label = "no_tumor"
	LabelTumor   Label = "tumor"
)

// Labels lists the labels in output-index order.
var Labels = []Label{LabelNoTumor, LabelTumor}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	return l == LabelNoTumor || l == LabelTumor
}

// DisplayName returns the human readable label.
func (l Label) DisplayName() string {
	switch l {
	case LabelNoTumor:
		return "No Tumor"
	case LabelTumor:
		return "Tumor Present"
	}
	return string(l)
}

// ParseLabel converts a stored label back to a Label.
func ParseLabel(s string) (Label, error) {
	l := Label(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown label %q", s)
	}
	return l, nil
}

// Prediction is the outcome of a single forward pass.
type Prediction struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	// TumorProbability is the model's raw probability for the tumor class.
	TumorProbability float64 `json:"tumor_probability"`
}

// Validate checks the label and that both probabilities lie in [0, 1].
func (p Prediction) Validate() error {
	if !p.Label.Valid() {
		return fmt.Errorf("invalid label %q", p.Label)
	}
	if !(p.Confidence >= 0 && p.Confidence <= 1) {
		return fmt.Errorf("confidence %v outside [0,1]", p.Confidence)
	}
	if !(p.TumorProbability >= 0 && p.TumorProbability <= 1) {
		return fmt.Errorf("tumor probability %v outside [0,1]", p.TumorProbability)
	}
	return nil
}
