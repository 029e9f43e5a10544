package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", withForeignKeys(connectionString))
	if err != nil {
		return nil, err
	}
	// Every connection to an in-memory database sees its own empty database.
	if isInMemory(connectionString) {
		db.SetMaxOpenConns(1)
	}

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func isInMemory(connectionString string) bool {
	return strings.HasPrefix(connectionString, ":memory:") || strings.Contains(connectionString, "mode=memory")
}

func withForeignKeys(connectionString string) string {
	if strings.Contains(connectionString, "foreign_keys") {
		return connectionString
	}
	sep := "?"
	if strings.Contains(connectionString, "?") {
		sep = "&"
	}
	return connectionString + sep + "_pragma=foreign_keys(1)"
}

func (s *SQLiteDatabase) CreateDatabase() (*sql.DB, error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			image_path TEXT NOT NULL,
			format TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL,
			uploaded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_uploaded_at ON scans (uploaded_at DESC)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			scan_id TEXT PRIMARY KEY REFERENCES scans (id) ON DELETE CASCADE,
			label TEXT NOT NULL CHECK (label IN ('tumor', 'no_tumor')),
			confidence REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
			tumor_probability REAL NOT NULL,
			model_fingerprint TEXT NOT NULL,
			predicted_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS visualizations (
			scan_id TEXT PRIMARY KEY REFERENCES predictions (scan_id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			target_label TEXT NOT NULL,
			alpha REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return nil, err
		}
	}

	return s.db, nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLiteDatabase) CreateScan(ctx context.Context, scan *Scan) error {
	if scan.ID == "" {
		scan.ID = GenerateID()
	}
	if scan.UploadedAt.IsZero() {
		scan.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (id, filename, image_path, format, width, height, size_bytes, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.ID, scan.Filename, scan.ImagePath, scan.Format, scan.Width, scan.Height, scan.SizeBytes,
		scan.UploadedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) SetPrediction(ctx context.Context, p *Prediction) error {
	if p.PredictedAt.IsZero() {
		p.PredictedAt = time.Now().UTC()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := scanExists(ctx, tx, p.ScanID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO predictions (scan_id, label, confidence, tumor_probability, model_fingerprint, predicted_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (scan_id) DO UPDATE SET
				label = excluded.label,
				confidence = excluded.confidence,
				tumor_probability = excluded.tumor_probability,
				model_fingerprint = excluded.model_fingerprint,
				predicted_at = excluded.predicted_at`,
			p.ScanID, p.Label, p.Confidence, p.TumorProbability, p.ModelFingerprint, p.PredictedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to store prediction: %w", err)
		}
		return nil
	})
}

func (s *SQLiteDatabase) SetVisualization(ctx context.Context, v *Visualization) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := scanExists(ctx, tx, v.ScanID); err != nil {
			return err
		}
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM predictions WHERE scan_id = ?", v.ScanID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoPrediction
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO visualizations (scan_id, path, target_label, alpha, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (scan_id) DO UPDATE SET
				path = excluded.path,
				target_label = excluded.target_label,
				alpha = excluded.alpha,
				created_at = excluded.created_at`,
			v.ScanID, v.Path, v.TargetLabel, v.Alpha, v.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to store visualization: %w", err)
		}
		return nil
	})
}

const selectScans = `SELECT s.id, s.filename, s.image_path, s.format, s.width, s.height, s.size_bytes, s.uploaded_at,
	p.label, p.confidence, p.tumor_probability, p.model_fingerprint, p.predicted_at,
	v.path, v.target_label, v.alpha, v.created_at
	FROM scans s
	LEFT JOIN predictions p ON p.scan_id = s.id
	LEFT JOIN visualizations v ON v.scan_id = s.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*Scan, error) {
	var (
		scan       Scan
		uploadedAt int64

		label, fingerprint    sql.NullString
		confidence, tumorProb sql.NullFloat64
		predictedAt           sql.NullInt64
		visPath, visTarget    sql.NullString
		visAlpha              sql.NullFloat64
		visCreatedAt          sql.NullInt64
	)
	err := row.Scan(&scan.ID, &scan.Filename, &scan.ImagePath, &scan.Format, &scan.Width, &scan.Height,
		&scan.SizeBytes, &uploadedAt,
		&label, &confidence, &tumorProb, &fingerprint, &predictedAt,
		&visPath, &visTarget, &visAlpha, &visCreatedAt)
	if err != nil {
		return nil, err
	}
	scan.UploadedAt = time.Unix(0, uploadedAt).UTC()

	if label.Valid {
		scan.Prediction = &Prediction{
			ScanID:           scan.ID,
			Label:            label.String,
			Confidence:       confidence.Float64,
			TumorProbability: tumorProb.Float64,
			ModelFingerprint: fingerprint.String,
			PredictedAt:      time.Unix(0, predictedAt.Int64).UTC(),
		}
	}
	if visPath.Valid {
		scan.Visualization = &Visualization{
			ScanID:      scan.ID,
			Path:        visPath.String,
			TargetLabel: visTarget.String,
			Alpha:       visAlpha.Float64,
			CreatedAt:   time.Unix(0, visCreatedAt.Int64).UTC(),
		}
	}
	return &scan, nil
}

func (s *SQLiteDatabase) GetScanByID(ctx context.Context, id string) (*Scan, error) {
	scan, err := scanRow(s.db.QueryRowContext(ctx, selectScans+" WHERE s.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scan %s: %w", id, err)
	}
	return scan, nil
}

func (s *SQLiteDatabase) GetScans(ctx context.Context, limit, offset int) ([]*Scan, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		selectScans+" ORDER BY s.uploaded_at DESC, s.rowid DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	scans := []*Scan{}
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

func (s *SQLiteDatabase) CountScans(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scans").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count scans: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) DeleteScan(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := scanExists(ctx, tx, id); err != nil {
			return err
		}
		for _, stmt := range []string{
			"DELETE FROM visualizations WHERE scan_id = ?",
			"DELETE FROM predictions WHERE scan_id = ?",
			"DELETE FROM scans WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("failed to delete scan %s: %w", id, err)
			}
		}
		return nil
	})
}

func scanExists(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM scans WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLiteDatabase) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
