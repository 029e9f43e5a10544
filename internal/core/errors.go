package core

import "errors"

var (
	// ErrScanNotFound is returned for an unknown scan id.
	ErrScanNotFound = errors.New("scan not found")
	// ErrNoPrediction is returned when a visualization is requested before the scan was classified.
	ErrNoPrediction = errors.New("scan has no prediction yet")
	// ErrTooLarge is returned for uploads above upload.maxBytes.
	ErrTooLarge = errors.New("upload too large")
)
