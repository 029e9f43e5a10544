package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/jo-hoe/tumorcam/internal/model"
)

var samplePrediction = model.Prediction{Label: model.LabelTumor, Confidence: 0.87, TumorProbability: 0.87}

func TestKey(t *testing.T) {
	a := Key("fp1", []byte("scan"))
	if a != Key("fp1", []byte("scan")) {
		t.Error("Key is not deterministic")
	}
	if a == Key("fp2", []byte("scan")) {
		t.Error("Key must depend on the model fingerprint")
	}
	if a == Key("fp1", []byte("scan2")) {
		t.Error("Key must depend on the image bytes")
	}
	if Key("ab", []byte("c")) == Key("a", []byte("bc")) {
		t.Error("fingerprint and data must be separated")
	}
}

func roundTrip(t *testing.T, c PredictionCache) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) = ok %v, err %v; want miss", ok, err)
	}
	if err := c.Set(ctx, "k", samplePrediction); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get(k) = ok %v, err %v; want hit", ok, err)
	}
	if got != samplePrediction {
		t.Errorf("Get(k) = %+v, want %+v", got, samplePrediction)
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	roundTrip(t, c)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok, _ := c.Get(context.Background(), "k"); ok {
		t.Error("Close() should drop entries")
	}
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedisCache(mr.Addr(), "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	roundTrip(t, c)

	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(context.Background(), "k"); ok {
		t.Error("entry should have expired")
	}
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(mr.Addr(), "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	if err := mr.Set("bad", "not json"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(context.Background(), "bad"); ok || err == nil {
		t.Errorf("Get(bad) = ok %v, err %v; want error", ok, err)
	}
	if err := mr.Set("invalid", `{"label":"maybe","confidence":2}`); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(context.Background(), "invalid"); ok || err == nil {
		t.Errorf("Get(invalid) = ok %v, err %v; want error", ok, err)
	}
}

func TestRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisCache(addr, "", 0, time.Minute); err == nil {
		t.Error("expected an error for an unreachable server")
	}
	if _, err := NewRedisCache("", "", 0, time.Minute); err == nil {
		t.Error("expected an error without an address")
	}
}

func TestNewCache(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", Config{}, false},
		{"none", Config{Type: "none"}, false},
		{"memory", Config{Type: "memory", TTL: time.Minute}, false},
		{"redis", Config{Type: "redis", Address: mr.Addr()}, false},
		{"unknown", Config{Type: "memcached"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCache(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewCache() error = %v, wantErr %v", err, tt.wantErr)
			}
			if c != nil {
				_ = c.Close()
			}
		})
	}
}

func TestNoopCache(t *testing.T) {
	c, err := NewCache(Config{Type: "none"})
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Set(context.Background(), "k", samplePrediction)
	if _, ok, _ := c.Get(context.Background(), "k"); ok {
		t.Error("noop cache should never hit")
	}
}
