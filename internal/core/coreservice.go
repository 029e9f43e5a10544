package core

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/jo-hoe/tumorcam/internal/backend/database"
	"github.com/jo-hoe/tumorcam/internal/cache"
	"github.com/jo-hoe/tumorcam/internal/gradcam"
	"github.com/jo-hoe/tumorcam/internal/imaging"
	"github.com/jo-hoe/tumorcam/internal/metrics"
	"github.com/jo-hoe/tumorcam/internal/model"
	"github.com/jo-hoe/tumorcam/internal/storage"
)

// Classifier is the inference engine the service drives.
type Classifier interface {
	Predict(img image.Image) (model.Prediction, error)
	Explain(img image.Image, target model.Label) (*model.Explanation, error)
	Fingerprint() string
	Summary() model.Summary
	Close() error
}

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	classifier      Classifier
	backend         string
	media           *storage.MediaStore
	validator       *imaging.UploadValidator
	renderer        *gradcam.Renderer
	cache           cache.PredictionCache
	metrics         *metrics.Metrics
}

// Option customises a CoreService.
type Option func(*CoreService)

// WithMetrics records service metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *CoreService) { s.metrics = m }
}

// WithCache replaces the cache built from the configuration.
func WithCache(c cache.PredictionCache) Option {
	return func(s *CoreService) { s.cache = c }
}

// NewCoreService wires the configured database, media store and cache around classifier.
// The service owns classifier and closes it in Close.
func NewCoreService(config *ServiceConfig, classifier Classifier, opts ...Option) (*CoreService, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	config.ApplyDefaults()

	validator, err := imaging.NewUploadValidator(config.Upload.AllowedExtensions, config.Upload.MaxPixels)
	if err != nil {
		return nil, fmt.Errorf("invalid upload configuration: %w", err)
	}
	renderer, err := gradcam.NewRenderer(gradcam.Options{Alpha: config.GradCAM.Alpha, Legend: config.GradCAM.Legend})
	if err != nil {
		return nil, err
	}
	media, err := storage.NewMediaStore(config.Media.Root, config.Media.URLPrefix)
	if err != nil {
		return nil, err
	}

	service := &CoreService{
		config:     config,
		classifier: classifier,
		backend:    classifier.Summary().Backend,
		media:      media,
		validator:  validator,
		renderer:   renderer,
	}
	for _, opt := range opts {
		opt(service)
	}

	if service.cache == nil {
		service.cache, err = cache.NewCache(config.Cache)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize prediction cache: %w", err)
		}
	}

	service.databaseService, err = getDatabaseService(config)
	if err != nil {
		_ = service.cache.Close()
		return nil, err
	}

	service.metrics.SetModel(service.backend, classifier.Fingerprint())
	return service, nil
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

// Config returns the effective configuration.
func (service *CoreService) Config() *ServiceConfig { return service.config }

// AcceptedExtensions lists the upload file extensions, normalised and in a stable order.
func (service *CoreService) AcceptedExtensions() []string { return service.validator.Extensions() }

// Media returns the media store serving uploads and overlays.
func (service *CoreService) Media() *storage.MediaStore { return service.media }

// Upload validates, stores and classifies a scan. Unsupported files are rejected
// before anything is written or inferred.
func (service *CoreService) Upload(ctx context.Context, filename string, data []byte) (*ScanResult, error) {
	result, err := service.upload(ctx, filename, data)
	service.metrics.RecordUpload(err)
	return result, err
}

func (service *CoreService) upload(ctx context.Context, filename string, data []byte) (*ScanResult, error) {
	if limit := service.config.Upload.MaxBytes; limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds the limit of %d", ErrTooLarge, len(data), limit)
	}
	format, err := service.validator.Validate(filename, data)
	if err != nil {
		slog.Info("CoreService: upload rejected", "filename", filename, "error", err)
		return nil, err
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}

	id := database.GenerateID()
	rel := storage.UploadPath(id, imaging.CanonicalExtension(format))
	if err := service.media.Write(rel, data); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	bounds := img.Bounds()
	scan := &database.Scan{
		ID:         id,
		Filename:   filename,
		ImagePath:  rel,
		Format:     format,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		SizeBytes:  int64(len(data)),
		UploadedAt: time.Now().UTC(),
	}
	if err := service.databaseService.CreateScan(ctx, scan); err != nil {
		service.removeFile(rel)
		return nil, err
	}
	slog.Info("CoreService: scan uploaded", "scan_id", id, "filename", filename, "format", format,
		"width", scan.Width, "height", scan.Height)

	if _, err := service.classifyAndStore(ctx, id, data, img); err != nil {
		return nil, fmt.Errorf("scan %s stored but prediction failed: %w", id, err)
	}
	return service.GetScan(ctx, id)
}

// Predict classifies a stored scan that has no prediction yet. A scan that already has
// one is returned unchanged.
func (service *CoreService) Predict(ctx context.Context, id string) (*ScanResult, error) {
	scan, err := service.getScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if scan.Prediction != nil {
		return service.toResult(scan), nil
	}

	data, img, err := service.loadImage(scan)
	if err != nil {
		return nil, err
	}
	if _, err := service.classifyAndStore(ctx, id, data, img); err != nil {
		return nil, err
	}
	return service.GetScan(ctx, id)
}

func (service *CoreService) classifyAndStore(ctx context.Context, id string, data []byte, img image.Image) (model.Prediction, error) {
	p, err := service.classify(ctx, data, img)
	if err != nil {
		slog.Error("CoreService: prediction failed", "scan_id", id, "error", err)
		return p, err
	}
	record := &database.Prediction{
		ScanID:           id,
		Label:            string(p.Label),
		Confidence:       p.Confidence,
		TumorProbability: p.TumorProbability,
		ModelFingerprint: service.classifier.Fingerprint(),
	}
	if err := service.databaseService.SetPrediction(ctx, record); err != nil {
		return p, mapDatabaseError(err)
	}
	slog.Info("CoreService: scan classified", "scan_id", id, "label", p.Label, "confidence", p.Confidence)
	return p, nil
}

// classify consults the cache before running the model. Cache failures only cost a
// forward pass.
func (service *CoreService) classify(ctx context.Context, data []byte, img image.Image) (model.Prediction, error) {
	key := cache.Key(service.classifier.Fingerprint(), data)
	cached, ok, err := service.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("CoreService: prediction cache lookup failed", "error", err)
	}
	service.metrics.RecordCacheLookup(ok)
	if ok {
		service.metrics.RecordPrediction(string(cached.Label), "cache")
		return cached, nil
	}

	start := time.Now()
	p, err := service.classifier.Predict(img)
	if err != nil {
		return model.Prediction{}, err
	}
	service.metrics.RecordInference(service.backend, time.Since(start).Seconds())
	service.metrics.RecordPrediction(string(p.Label), "model")

	if err := service.cache.Set(ctx, key, p); err != nil {
		slog.Warn("CoreService: failed to cache prediction", "error", err)
	}
	return p, nil
}

// GetScan returns a scan with its prediction and visualization.
func (service *CoreService) GetScan(ctx context.Context, id string) (*ScanResult, error) {
	scan, err := service.getScan(ctx, id)
	if err != nil {
		return nil, err
	}
	return service.toResult(scan), nil
}

func (service *CoreService) getScan(ctx context.Context, id string) (*database.Scan, error) {
	scan, err := service.databaseService.GetScanByID(ctx, id)
	if err != nil {
		return nil, mapDatabaseError(err)
	}
	return scan, nil
}

// ListScans returns a page of scans, newest first. A non-positive limit selects the
// configured history page size.
func (service *CoreService) ListScans(ctx context.Context, limit, offset int) (*ScanPage, error) {
	if limit <= 0 {
		limit = service.config.HistoryPageSize
	}
	if offset < 0 {
		offset = 0
	}
	scans, err := service.databaseService.GetScans(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := service.databaseService.CountScans(ctx)
	if err != nil {
		return nil, err
	}

	page := &ScanPage{Scans: make([]*ScanResult, len(scans)), Total: total, Limit: limit, Offset: offset}
	for i, scan := range scans {
		page.Scans[i] = service.toResult(scan)
	}
	return page, nil
}

// RecentScans returns the most recent scans for the home page.
func (service *CoreService) RecentScans(ctx context.Context) ([]*ScanResult, error) {
	page, err := service.ListScans(ctx, RecentScanCount, 0)
	if err != nil {
		return nil, err
	}
	return page.Scans, nil
}

// Visualize renders the Grad-CAM overlay for the scan's stored label and replaces any
// earlier overlay. The overlay has the dimensions of the uploaded image.
func (service *CoreService) Visualize(ctx context.Context, id string) (*VisualizationResult, error) {
	start := time.Now()
	result, err := service.visualize(ctx, id)
	service.metrics.RecordVisualization(time.Since(start).Seconds(), err)
	return result, err
}

func (service *CoreService) visualize(ctx context.Context, id string) (*VisualizationResult, error) {
	scan, err := service.getScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if scan.Prediction == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPrediction, id)
	}
	target, err := model.ParseLabel(scan.Prediction.Label)
	if err != nil {
		return nil, fmt.Errorf("stored prediction for %s is invalid: %w", id, err)
	}

	_, img, err := service.loadImage(scan)
	if err != nil {
		return nil, err
	}
	exp, err := service.classifier.Explain(img, target)
	if err != nil {
		return nil, fmt.Errorf("failed to explain scan %s: %w", id, err)
	}
	rendered, err := service.renderer.Render(img, exp)
	if err != nil {
		return nil, fmt.Errorf("failed to render overlay for %s: %w", id, err)
	}
	encoded, err := imaging.EncodePNG(rendered.Image)
	if err != nil {
		return nil, err
	}

	rel := storage.VisualizationPath(id)
	if err := service.media.Write(rel, encoded); err != nil {
		return nil, fmt.Errorf("failed to store overlay: %w", err)
	}
	record := &database.Visualization{
		ScanID:      id,
		Path:        rel,
		TargetLabel: string(target),
		Alpha:       service.config.GradCAM.Alpha,
	}
	if err := service.databaseService.SetVisualization(ctx, record); err != nil {
		return nil, mapDatabaseError(err)
	}

	slog.Info("CoreService: overlay rendered", "scan_id", id, "target", target, "path", rel)
	result := service.toVisualization(record)
	result.Width = rendered.Image.Rect.Dx()
	result.Height = rendered.Image.Rect.Dy()
	return result, nil
}

// VisualizationImage returns the PNG overlay of a scan, rendering it first when it
// does not exist yet.
func (service *CoreService) VisualizationImage(ctx context.Context, id string) ([]byte, error) {
	scan, err := service.getScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if v := scan.Visualization; v != nil {
		if service.media.Exists(v.Path) {
			return service.media.Read(v.Path)
		}
		slog.Warn("CoreService: overlay file missing, rendering again", "scan_id", id, "path", v.Path)
	}
	if _, err := service.Visualize(ctx, id); err != nil {
		return nil, err
	}
	return service.media.Read(storage.VisualizationPath(id))
}

// Thumbnail returns a PNG of the scan scaled to the configured thumbnail width.
func (service *CoreService) Thumbnail(ctx context.Context, id string) ([]byte, error) {
	scan, err := service.getScan(ctx, id)
	if err != nil {
		return nil, err
	}
	_, img, err := service.loadImage(scan)
	if err != nil {
		return nil, err
	}
	return imaging.EncodePNG(imaging.Thumbnail(img, service.config.ThumbnailWidth))
}

// DeleteScan removes the scan's records and files.
func (service *CoreService) DeleteScan(ctx context.Context, id string) error {
	scan, err := service.getScan(ctx, id)
	if err != nil {
		return err
	}
	if err := service.databaseService.DeleteScan(ctx, id); err != nil {
		return mapDatabaseError(err)
	}
	service.removeFile(scan.ImagePath)
	if scan.Visualization != nil {
		service.removeFile(scan.Visualization.Path)
	}
	slog.Info("CoreService: scan deleted", "scan_id", id)
	return nil
}

// ModelSummary describes the loaded network.
func (service *CoreService) ModelSummary() model.Summary {
	return service.classifier.Summary()
}

// Ping reports whether the database is reachable.
func (service *CoreService) Ping() bool {
	return service.databaseService.DoesDatabaseExist()
}

// Close releases the database, cache and model.
func (service *CoreService) Close() error {
	return errors.Join(
		service.databaseService.Close(),
		service.cache.Close(),
		service.classifier.Close(),
	)
}

func (service *CoreService) loadImage(scan *database.Scan) ([]byte, image.Image, error) {
	data, err := service.media.Read(scan.ImagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read scan %s: %w", scan.ID, err)
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	return data, img, nil
}

func (service *CoreService) removeFile(rel string) {
	if err := service.media.Remove(rel); err != nil {
		slog.Warn("CoreService: failed to remove media file", "path", rel, "error", err)
	}
}

func mapDatabaseError(err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrScanNotFound, err)
	case errors.Is(err, database.ErrNoPrediction):
		return fmt.Errorf("%w: %v", ErrNoPrediction, err)
	}
	return err
}
