// Package cache stores predictions keyed by image content and model fingerprint.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/tumorcam/internal/model"
)

// PredictionCache is a best effort store; callers treat errors as misses.
type PredictionCache interface {
	Get(ctx context.Context, key string) (model.Prediction, bool, error)
	Set(ctx context.Context, key string, p model.Prediction) error
	Close() error
}

// Config selects and configures a cache implementation.
type Config struct {
	Type     string        `yaml:"type"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// DefaultTTL applies when Config.TTL is zero.
const DefaultTTL = 24 * time.Hour

// Key derives the cache key for image bytes scored by the model with fingerprint.
func Key(fingerprint string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write(data)
	return "prediction:" + hex.EncodeToString(h.Sum(nil))
}

// NewCache creates the cache named by cfg.Type.
func NewCache(cfg Config) (PredictionCache, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var (
		c   PredictionCache
		err error
	)
	switch cfg.Type {
	case "", "none":
		c = noopCache{}
	case "memory":
		c = NewMemoryCache(ttl)
	case "redis":
		c, err = NewRedisCache(cfg.Address, cfg.Password, cfg.DB, ttl)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}

	slog.Info("prediction cache initialized", "type", cfg.Type, "ttl", ttl)
	return c, nil
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (model.Prediction, bool, error) {
	return model.Prediction{}, false, nil
}

func (noopCache) Set(context.Context, string, model.Prediction) error { return nil }

func (noopCache) Close() error { return nil }
