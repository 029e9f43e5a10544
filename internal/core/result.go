package core

import (
	"math"
	"time"

	"github.com/jo-hoe/tumorcam/internal/backend/database"
	"github.com/jo-hoe/tumorcam/internal/model"
)

// ScanResult is a scan as presented to clients.
type ScanResult struct {
	ID            string               `json:"id"`
	Filename      string               `json:"filename"`
	ImageURL      string               `json:"image_url"`
	Format        string               `json:"format"`
	Width         int                  `json:"width"`
	Height        int                  `json:"height"`
	SizeBytes     int64                `json:"size_bytes"`
	UploadedAt    time.Time            `json:"uploaded_at"`
	Status        string               `json:"status"`
	Prediction    *PredictionResult    `json:"prediction,omitempty"`
	Visualization *VisualizationResult `json:"visualization,omitempty"`
}

type PredictionResult struct {
	Label            model.Label `json:"label"`
	DisplayName      string      `json:"display_name"`
	Confidence       float64     `json:"confidence"`
	TumorProbability float64     `json:"tumor_probability"`
	ModelFingerprint string      `json:"model_fingerprint"`
	PredictedAt      time.Time   `json:"predicted_at"`
}

// ConfidencePercent returns the confidence as a percentage rounded to two decimals.
func (p *PredictionResult) ConfidencePercent() float64 {
	return math.Round(p.Confidence*10000) / 100
}

type VisualizationResult struct {
	ScanID      string      `json:"scan_id"`
	URL         string      `json:"url"`
	TargetLabel model.Label `json:"target_label"`
	Alpha       float64     `json:"alpha"`
	Width       int         `json:"width,omitempty"`
	Height      int         `json:"height,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ScanPage is one page of the scan history.
type ScanPage struct {
	Scans  []*ScanResult `json:"scans"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (service *CoreService) toResult(scan *database.Scan) *ScanResult {
	result := &ScanResult{
		ID:         scan.ID,
		Filename:   scan.Filename,
		ImageURL:   service.media.URL(scan.ImagePath),
		Format:     scan.Format,
		Width:      scan.Width,
		Height:     scan.Height,
		SizeBytes:  scan.SizeBytes,
		UploadedAt: scan.UploadedAt,
		Status:     scan.Status(),
	}
	if p := scan.Prediction; p != nil {
		label := model.Label(p.Label)
		result.Prediction = &PredictionResult{
			Label:            label,
			DisplayName:      label.DisplayName(),
			Confidence:       p.Confidence,
			TumorProbability: p.TumorProbability,
			ModelFingerprint: p.ModelFingerprint,
			PredictedAt:      p.PredictedAt,
		}
	}
	if v := scan.Visualization; v != nil {
		result.Visualization = service.toVisualization(v)
	}
	return result
}

func (service *CoreService) toVisualization(v *database.Visualization) *VisualizationResult {
	return &VisualizationResult{
		ScanID:      v.ScanID,
		URL:         service.media.URL(v.Path),
		TargetLabel: model.Label(v.TargetLabel),
		Alpha:       v.Alpha,
		CreatedAt:   v.CreatedAt,
	}
}
