package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jo-hoe/tumorcam/internal/model"
)

// RedisCache shares predictions between instances through redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to address and verifies the connection.
func NewRedisCache(address, password string, db int, ttl time.Duration) (*RedisCache, error) {
	if address == "" {
		return nil, fmt.Errorf("redis cache requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", address, err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (model.Prediction, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Prediction{}, false, nil
	}
	if err != nil {
		return model.Prediction{}, false, err
	}

	var p model.Prediction
	if err := json.Unmarshal(b, &p); err != nil {
		return model.Prediction{}, false, fmt.Errorf("unmarshal: %w", err)
	}
	if err := p.Validate(); err != nil {
		return model.Prediction{}, false, fmt.Errorf("cached prediction: %w", err)
	}
	return p, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, p model.Prediction) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return r.client.Set(ctx, key, b, r.ttl).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
