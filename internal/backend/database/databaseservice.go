package database

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// ErrNotFound is returned when no scan has the requested id.
	ErrNotFound = errors.New("scan not found")
	// ErrNoPrediction is returned when a visualization is stored for a scan without a prediction.
	ErrNoPrediction = errors.New("scan has no prediction")
)

type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	CreateScan(ctx context.Context, scan *Scan) error
	// SetPrediction stores or replaces the prediction for an existing scan.
	SetPrediction(ctx context.Context, prediction *Prediction) error
	// SetVisualization stores or replaces the overlay record. The scan must have a prediction.
	SetVisualization(ctx context.Context, visualization *Visualization) error
	// GetScanByID returns the scan with its prediction and visualization, if any.
	GetScanByID(ctx context.Context, id string) (*Scan, error)
	// GetScans returns scans newest first.
	GetScans(ctx context.Context, limit, offset int) ([]*Scan, error)
	CountScans(ctx context.Context) (int, error)
	// DeleteScan removes the scan and everything recorded for it.
	DeleteScan(ctx context.Context, id string) error
}
