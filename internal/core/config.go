package core

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/tumorcam/internal/cache"
	"github.com/jo-hoe/tumorcam/internal/gradcam"
	"github.com/jo-hoe/tumorcam/internal/imaging"
	"github.com/jo-hoe/tumorcam/internal/model"
)

const (
	DefaultPort            = 8080
	DefaultMaxUploadBytes  = 10 << 20
	DefaultHistoryPageSize = 20
	DefaultThumbnailWidth  = 256
	RecentScanCount        = 5
)

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

// Media is where uploads and overlays are written and the URL path they are served under.
type Media struct {
	Root      string `yaml:"root"`
	URLPrefix string `yaml:"urlPrefix"`
}

// Upload limits accepted files. MaxPixels bounds the dimensions declared in the
// image header and is checked before any pixel data is decoded.
type Upload struct {
	MaxBytes          int64    `yaml:"maxBytes"`
	MaxPixels         int64    `yaml:"maxPixels"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
}

// Model selects the inference backend. Mean and Std are per RGB channel on the
// [0,1] pixel scale and default to no normalisation.
type Model struct {
	Backend     string    `yaml:"backend"`
	ModelPath   string    `yaml:"modelPath"`
	WeightsPath string    `yaml:"weightsPath"`
	InputWidth  int       `yaml:"inputWidth"`
	InputHeight int       `yaml:"inputHeight"`
	Threads     int       `yaml:"threads"`
	Mean        []float32 `yaml:"mean"`
	Std         []float32 `yaml:"std"`
}

// GradCAM configures the overlay. A zero alpha selects gradcam.DefaultAlpha.
type GradCAM struct {
	Alpha  float64 `yaml:"alpha"`
	Legend bool    `yaml:"legend"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServiceConfig struct {
	Port            int          `yaml:"port"`
	Database        Database     `yaml:"database"`
	Media           Media        `yaml:"media"`
	Upload          Upload       `yaml:"upload"`
	Model           Model        `yaml:"model"`
	GradCAM         GradCAM      `yaml:"gradcam"`
	Cache           cache.Config `yaml:"cache"`
	Log             Log          `yaml:"log"`
	HistoryPageSize int          `yaml:"historyPageSize"`
	ThumbnailWidth  int          `yaml:"thumbnailWidth"`
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}

	return &config, nil
}

// ApplyDefaults fills every unset field.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.ConnectionString == "" {
		c.Database.ConnectionString = "tumorcam.db"
	}
	if c.Media.Root == "" {
		c.Media.Root = "media"
	}
	if c.Media.URLPrefix == "" {
		c.Media.URLPrefix = "/media"
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = DefaultMaxUploadBytes
	}
	if c.Upload.MaxPixels == 0 {
		c.Upload.MaxPixels = imaging.DefaultMaxPixels
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = append([]string(nil), imaging.DefaultAllowedExtensions...)
	}
	if c.Model.Backend == "" {
		c.Model.Backend = "native"
	}
	if c.Model.InputWidth == 0 {
		c.Model.InputWidth = 224
	}
	if c.Model.InputHeight == 0 {
		c.Model.InputHeight = 224
	}
	if c.GradCAM.Alpha == 0 {
		c.GradCAM.Alpha = gradcam.DefaultAlpha
	}
	if c.Cache.Type == "" {
		c.Cache.Type = "memory"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.HistoryPageSize == 0 {
		c.HistoryPageSize = DefaultHistoryPageSize
	}
	if c.ThumbnailWidth == 0 {
		c.ThumbnailWidth = DefaultThumbnailWidth
	}
}

// Validate reports the first invalid setting.
func (c *ServiceConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("upload.maxBytes must not be negative")
	}
	if c.Upload.MaxPixels < 0 {
		return fmt.Errorf("upload.maxPixels must not be negative")
	}
	if _, err := imaging.NewUploadValidator(c.Upload.AllowedExtensions, c.Upload.MaxPixels); err != nil {
		return fmt.Errorf("upload.allowedExtensions: %w", err)
	}
	if c.Model.WeightsPath == "" {
		return fmt.Errorf("model.weightsPath is required")
	}
	if c.Model.InputWidth < 0 || c.Model.InputHeight < 0 {
		return fmt.Errorf("model input size %dx%d is invalid", c.Model.InputWidth, c.Model.InputHeight)
	}
	if c.Model.Threads < 0 {
		return fmt.Errorf("model.threads must not be negative")
	}
	if _, err := c.Model.Normalization(); err != nil {
		return err
	}
	if c.GradCAM.Alpha < 0 || c.GradCAM.Alpha > 1 {
		return fmt.Errorf("gradcam.alpha %v outside [0,1]", c.GradCAM.Alpha)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}
	if c.HistoryPageSize < 0 {
		return fmt.Errorf("historyPageSize must not be negative")
	}
	if c.ThumbnailWidth < 0 {
		return fmt.Errorf("thumbnailWidth must not be negative")
	}
	return nil
}

// Normalization converts the configured mean and std.
func (m Model) Normalization() (model.Normalization, error) {
	norm := model.DefaultNormalization()
	if len(m.Mean) != 0 {
		if len(m.Mean) != 3 {
			return norm, fmt.Errorf("model.mean needs 3 values, got %d", len(m.Mean))
		}
		copy(norm.Mean[:], m.Mean)
	}
	if len(m.Std) != 0 {
		if len(m.Std) != 3 {
			return norm, fmt.Errorf("model.std needs 3 values, got %d", len(m.Std))
		}
		copy(norm.Std[:], m.Std)
	}
	if err := norm.Validate(); err != nil {
		return norm, fmt.Errorf("model.std: %w", err)
	}
	return norm, nil
}

// ModelConfig returns the settings model.Load expects.
func (m Model) ModelConfig() (model.Config, error) {
	norm, err := m.Normalization()
	if err != nil {
		return model.Config{}, err
	}
	return model.Config{
		Backend:     m.Backend,
		ModelPath:   m.ModelPath,
		WeightsPath: m.WeightsPath,
		InputWidth:  m.InputWidth,
		InputHeight: m.InputHeight,
		Threads:     m.Threads,
		Norm:        norm,
	}, nil
}
