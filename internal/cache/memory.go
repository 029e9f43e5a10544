package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jo-hoe/tumorcam/internal/model"
)

// MemoryCache keeps predictions in process memory.
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache creates a cache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{store: gocache.New(ttl, 2*ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (model.Prediction, bool, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return model.Prediction{}, false, nil
	}
	p, ok := v.(model.Prediction)
	return p, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, p model.Prediction) error {
	m.store.SetDefault(key, p)
	return nil
}

// Close drops all entries.
func (m *MemoryCache) Close() error {
	m.store.Flush()
	return nil
}
