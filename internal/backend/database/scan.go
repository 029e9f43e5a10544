package database

import "time"

// Scan is an uploaded image. ImagePath is relative to the media root.
type Scan struct {
	ID         string
	Filename   string
	ImagePath  string
	Format     string
	Width      int
	Height     int
	SizeBytes  int64
	UploadedAt time.Time

	Prediction    *Prediction
	Visualization *Visualization
}

// Prediction is the classifier output for a scan. There is at most one per scan.
type Prediction struct {
	ScanID           string
	Label            string
	Confidence       float64
	TumorProbability float64
	ModelFingerprint string
	PredictedAt      time.Time
}

// Visualization records the Grad-CAM overlay of a scan. There is at most one per scan.
type Visualization struct {
	ScanID      string
	Path        string
	TargetLabel string
	Alpha       float64
	CreatedAt   time.Time
}

// Status is the scan's lifecycle state: uploaded, predicted or visualized.
func (s *Scan) Status() string {
	switch {
	case s.Visualization != nil:
		return "visualized"
	case s.Prediction != nil:
		return "predicted"
	}
	return "uploaded"
}
