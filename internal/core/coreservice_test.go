package core

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/jo-hoe/tumorcam/internal/cache"
	"github.com/jo-hoe/tumorcam/internal/imaging"
	"github.com/jo-hoe/tumorcam/internal/metrics"
	"github.com/jo-hoe/tumorcam/internal/model"
	"github.com/jo-hoe/tumorcam/internal/model/modeltest"
)

// countingClassifier counts forward passes and can be switched to fail.
type countingClassifier struct {
	*model.Classifier
	predicts atomic.Int32
	fail     atomic.Bool
}

func (c *countingClassifier) Predict(img image.Image) (model.Prediction, error) {
	c.predicts.Add(1)
	if c.fail.Load() {
		return model.Prediction{}, errors.New("inference failed")
	}
	return c.Classifier.Predict(img)
}

func newTestConfig(t *testing.T) *ServiceConfig {
	t.Helper()
	cfg := &ServiceConfig{
		Database: Database{
			Type:             "sqlite",
			ConnectionString: ":memory:",
		},
		Media: Media{Root: filepath.Join(t.TempDir(), "media")},
		Model: Model{WeightsPath: "unused.json"},
		Cache: cache.Config{Type: "none"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestCoreService(t *testing.T, cfg *ServiceConfig) (*CoreService, *countingClassifier) {
	t.Helper()
	classifier := &countingClassifier{Classifier: modeltest.NewClassifier(t)}
	m, err := metrics.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	svc, err := NewCoreService(cfg, classifier, WithMetrics(m))
	if err != nil {
		t.Fatalf("NewCoreService() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc, classifier
}

func spotPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	return modeltest.PNG(t, modeltest.SpotImage(w, h, w/2, h/3, w/6))
}

func TestUpload_ClassifiesAndStores(t *testing.T) {
	svc, _ := newTestCoreService(t, newTestConfig(t))
	ctx := context.Background()

	result, err := svc.Upload(ctx, "scan.PNG", spotPNG(t, 96, 72))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if result.Prediction == nil {
		t.Fatal("Upload() returned no prediction")
	}
	p := result.Prediction
	if !p.Label.Valid() {
		t.Errorf("label %q is not valid", p.Label)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		t.Errorf("confidence %v outside [0,1]", p.Confidence)
	}
	if result.Status != "predicted" || result.Width != 96 || result.Height != 72 || result.Format != "png" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.ImageURL != "/media/uploads/"+result.ID+".png" {
		t.Errorf("ImageURL = %q", result.ImageURL)
	}
	if _, err := os.Stat(filepath.Join(svc.Media().Root(), "uploads", result.ID+".png")); err != nil {
		t.Errorf("uploaded file missing: %v", err)
	}

	again, err := svc.GetScan(ctx, result.ID)
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}
	if *again.Prediction != *result.Prediction {
		t.Errorf("stored prediction %+v differs from returned %+v", again.Prediction, result.Prediction)
	}
}

func TestUpload_SameImageSamePrediction(t *testing.T) {
	tests := []struct {
		name         string
		cacheType    string
		wantPredicts int32
	}{
		{"without cache", "none", 2},
		{"with memory cache", "memory", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Cache = cache.Config{Type: tt.cacheType}
			svc, classifier := newTestCoreService(t, cfg)
			data := spotPNG(t, 64, 64)

			first, err := svc.Upload(context.Background(), "a.png", data)
			if err != nil {
				t.Fatalf("first Upload() error = %v", err)
			}
			second, err := svc.Upload(context.Background(), "b.png", data)
			if err != nil {
				t.Fatalf("second Upload() error = %v", err)
			}
			if first.ID == second.ID {
				t.Error("each upload must create a new scan")
			}
			if first.Prediction.Label != second.Prediction.Label || first.Prediction.Confidence != second.Prediction.Confidence {
				t.Errorf("predictions differ: %+v vs %+v", first.Prediction, second.Prediction)
			}
			if got := classifier.predicts.Load(); got != tt.wantPredicts {
				t.Errorf("forward passes = %d, want %d", got, tt.wantPredicts)
			}
		})
	}
}

func TestUpload_RejectsBeforeInference(t *testing.T) {
	svc, classifier := newTestCoreService(t, newTestConfig(t))
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
		data     []byte
		wantErr  error
	}{
		{"text file", "notes.txt", []byte("hello"), imaging.ErrUnsupportedFormat},
		{"gif extension", "scan.gif", spotPNG(t, 8, 8), imaging.ErrUnsupportedFormat},
		{"no extension", "scan", spotPNG(t, 8, 8), imaging.ErrUnsupportedFormat},
		{"corrupt png", "scan.png", []byte("not really a png"), imaging.ErrDecode},
		{"empty file", "scan.png", nil, imaging.ErrDecode},
		{"forged bmp dimensions", "scan.bmp", forgedBMP(65535, 65535), imaging.ErrTooManyPixels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Upload(ctx, tt.filename, tt.data); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Upload() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := classifier.predicts.Load(); got != 0 {
		t.Errorf("classifier ran %d times for rejected uploads", got)
	}
	page, err := svc.ListScans(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 {
		t.Errorf("rejected uploads created %d scans", page.Total)
	}
	entries, _ := os.ReadDir(filepath.Join(svc.Media().Root(), "uploads"))
	if len(entries) != 0 {
		t.Errorf("rejected uploads left %d files", len(entries))
	}
}

// forgedBMP returns a 24-bit BMP header declaring width x height with no pixel data.
func forgedBMP(width, height uint32) []byte {
	buf := make([]byte, 54)
	buf[0], buf[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(buf[10:], 54)
	binary.LittleEndian.PutUint32(buf[14:], 40)
	binary.LittleEndian.PutUint32(buf[18:], width)
	binary.LittleEndian.PutUint32(buf[22:], height)
	binary.LittleEndian.PutUint16(buf[26:], 1)
	binary.LittleEndian.PutUint16(buf[28:], 24)
	return buf
}

func TestUpload_PixelLimit(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Upload.MaxPixels = 96 * 72
	svc, classifier := newTestCoreService(t, cfg)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "scan.png", spotPNG(t, 96, 73)); !errors.Is(err, imaging.ErrTooManyPixels) {
		t.Fatalf("Upload() error = %v, want %v", err, imaging.ErrTooManyPixels)
	}
	if got := classifier.predicts.Load(); got != 0 {
		t.Errorf("classifier ran %d times for an oversized image", got)
	}
	if page, err := svc.ListScans(ctx, 0, 0); err != nil || page.Total != 0 {
		t.Errorf("oversized image created scans: page=%+v err=%v", page, err)
	}
	entries, _ := os.ReadDir(filepath.Join(svc.Media().Root(), "uploads"))
	if len(entries) != 0 {
		t.Errorf("oversized image left %d files", len(entries))
	}

	if _, err := svc.Upload(ctx, "scan.png", spotPNG(t, 96, 72)); err != nil {
		t.Errorf("Upload() at the pixel limit error = %v", err)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Upload.MaxBytes = 100
	svc, _ := newTestCoreService(t, cfg)

	if _, err := svc.Upload(context.Background(), "big.png", spotPNG(t, 64, 64)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Upload() error = %v, want ErrTooLarge", err)
	}
}

func TestVisualize_RequiresPrediction(t *testing.T) {
	svc, classifier := newTestCoreService(t, newTestConfig(t))
	ctx := context.Background()

	classifier.fail.Store(true)
	if _, err := svc.Upload(ctx, "scan.png", spotPNG(t, 64, 48)); err == nil {
		t.Fatal("Upload() should report the failed prediction")
	}
	page, err := svc.ListScans(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Scans[0].Status != "uploaded" || page.Scans[0].Prediction != nil {
		t.Fatalf("expected one unclassified scan, got %+v", page)
	}
	id := page.Scans[0].ID

	if _, err := svc.Visualize(ctx, id); !errors.Is(err, ErrNoPrediction) {
		t.Fatalf("Visualize() error = %v, want ErrNoPrediction", err)
	}
	if _, err := svc.VisualizationImage(ctx, id); !errors.Is(err, ErrNoPrediction) {
		t.Fatalf("VisualizationImage() error = %v, want ErrNoPrediction", err)
	}

	classifier.fail.Store(false)
	predicted, err := svc.Predict(ctx, id)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if predicted.Prediction == nil {
		t.Fatal("Predict() did not store a prediction")
	}
	if _, err := svc.Visualize(ctx, id); err != nil {
		t.Fatalf("Visualize() after Predict error = %v", err)
	}

	before := classifier.predicts.Load()
	if _, err := svc.Predict(ctx, id); err != nil {
		t.Fatalf("second Predict() error = %v", err)
	}
	if classifier.predicts.Load() != before {
		t.Error("Predict() must not re-run inference for a classified scan")
	}
}

func TestVisualize_MatchesOriginalDimensions(t *testing.T) {
	svc, _ := newTestCoreService(t, newTestConfig(t))
	ctx := context.Background()

	scan, err := svc.Upload(ctx, "scan.png", spotPNG(t, 123, 77))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	vis, err := svc.Visualize(ctx, scan.ID)
	if err != nil {
		t.Fatalf("Visualize() error = %v", err)
	}
	if vis.Width != 123 || vis.Height != 77 {
		t.Errorf("overlay %dx%d, want 123x77", vis.Width, vis.Height)
	}
	if vis.URL != "/media/gradcam/gradcam_"+scan.ID+".png" {
		t.Errorf("URL = %q", vis.URL)
	}
	if vis.TargetLabel != scan.Prediction.Label {
		t.Errorf("target %s, want predicted label %s", vis.TargetLabel, scan.Prediction.Label)
	}

	data, err := svc.VisualizationImage(ctx, scan.ID)
	if err != nil {
		t.Fatalf("VisualizationImage() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("overlay is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 123 || b.Dy() != 77 {
		t.Errorf("stored overlay %dx%d, want 123x77", b.Dx(), b.Dy())
	}

	got, err := svc.GetScan(ctx, scan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "visualized" || got.Visualization == nil {
		t.Errorf("scan not marked visualized: %+v", got)
	}

	// rendering again overwrites the artifact deterministically
	if _, err := svc.Visualize(ctx, scan.ID); err != nil {
		t.Fatalf("second Visualize() error = %v", err)
	}
	again, err := svc.VisualizationImage(ctx, scan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("overlay changed between identical renderings")
	}
}

func TestVisualizationImage_RendersWhenMissing(t *testing.T) {
	svc, _ := newTestCoreService(t, newTestConfig(t))
	ctx := context.Background()

	scan, err := svc.Upload(ctx, "scan.png", spotPNG(t, 40, 40))
	if err != nil {
		t.Fatal(err)
	}
	data, err := svc.VisualizationImage(ctx, scan.ID)
	if err != nil {
		t.Fatalf("VisualizationImage() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty overlay")
	}

	// a lost file is rendered again
	if err := os.Remove(filepath.Join(svc.Media().Root(), "gradcam", "gradcam_"+scan.ID+".png")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VisualizationImage(ctx, scan.ID); err != nil {
		t.Fatalf("VisualizationImage() after file loss error = %v", err)
	}
}

func TestUnknownScan(t *testing.T) {
	svc, _ := newTestCoreService(t, newTestConfig(t))
	ctx := context.Background()

	if _, err := svc.GetScan(ctx, "missing"); !errors.Is(err, ErrScanNotFound) {
		t.Errorf("GetScan() error = %v, want ErrScanNotFound", err)
	}
	if _, err := svc.Visualize(ctx, "missing"); !errors.Is(err, ErrScanNotFound) {
		t.Errorf("Visualize() error = %v, want ErrScanNotFound", err)
	}
	if _, err := svc.Predict(ctx, "missing"); !errors.Is(err, ErrScanNotFound) {
		t.Errorf("Predict() error = %v, want ErrScanNotFound", err)
	}
	if err := svc.DeleteScan(ctx, "missing"); !errors.Is(err, ErrScanNotFound) {
		t.Errorf("DeleteScan() error = %v, want ErrScanNotFound", err)
	}
}

func TestListScans_NewestFirst(t *testing.T) {
	svc, _ := newTestCoreService(t, newTestConfig(t))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 7; i++ {
		scan, err := svc.Upload(ctx, "scan.png", spotPNG(t, 32+i, 32))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, scan.ID)
	}

	recent, err := svc.RecentScans(ctx)
	if err != nil {
		t.Fatalf("RecentScans() error = %v", err)
	}
	if len(recent) != RecentScanCount {
		t.Fatalf("RecentScans() returned %d scans, want %d", len(recent), RecentScanCount)
	}
	if recent[0].ID != ids[6] {
		t.Errorf("newest scan = %s, want %s", recent[0].ID, ids[6])
	}

	page, err := svc.ListScans(ctx, 3, 5)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 7 || len(page.Scans) != 2 || page.Scans[1].ID != ids[0] {
		t.Errorf("unexpected page: total %d, %d scans", page.Total, len(page.Scans))
	}
}

func TestDeleteScan_RemovesFiles(t *testing.T) {
	svc, _ := newTestCoreService(t, newTestConfig(t))
	ctx := context.Background()

	scan, err := svc.Upload(ctx, "scan.png", spotPNG(t, 40, 40))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Visualize(ctx, scan.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteScan(ctx, scan.ID); err != nil {
		t.Fatalf("DeleteScan() error = %v", err)
	}
	for _, rel := range []string{"uploads/" + scan.ID + ".png", "gradcam/gradcam_" + scan.ID + ".png"} {
		if svc.Media().Exists(rel) {
			t.Errorf("%s still exists", rel)
		}
	}
	if _, err := svc.GetScan(ctx, scan.ID); !errors.Is(err, ErrScanNotFound) {
		t.Errorf("GetScan() after delete error = %v", err)
	}
}

func TestThumbnail(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.ThumbnailWidth = 50
	svc, _ := newTestCoreService(t, cfg)

	scan, err := svc.Upload(context.Background(), "scan.png", spotPNG(t, 200, 100))
	if err != nil {
		t.Fatal(err)
	}
	data, err := svc.Thumbnail(context.Background(), scan.ID)
	if err != nil {
		t.Fatalf("Thumbnail() error = %v", err)
	}
	cfgImg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if cfgImg.Width != 50 || cfgImg.Height != 25 {
		t.Errorf("thumbnail %dx%d, want 50x25", cfgImg.Width, cfgImg.Height)
	}
}

func TestModelSummaryAndPing(t *testing.T) {
	svc, _ := newTestCoreService(t, newTestConfig(t))
	s := svc.ModelSummary()
	if s.Backend != "native" || len(s.ClassNames) != 2 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if !svc.Ping() {
		t.Error("Ping() = false")
	}
}

func TestNewCoreService_Errors(t *testing.T) {
	if _, err := NewCoreService(newTestConfig(t), nil); err == nil {
		t.Error("expected an error without a classifier")
	}

	cfg := newTestConfig(t)
	cfg.Database.Type = "postgres"
	if _, err := NewCoreService(cfg, modeltest.NewClassifier(t)); err == nil {
		t.Error("expected an error for an unsupported database")
	}
}
