package tflite

import (
	"os"
	"testing"

	"github.com/jo-hoe/tumorcam/internal/model"
)

func TestRegistered(t *testing.T) {
	if !model.DefaultRegistry.IsRegistered("tflite") {
		t.Fatal("tflite backend is not registered")
	}
}

func TestNew_RequiresModelPath(t *testing.T) {
	b, err := New(model.Config{Backend: "tflite"}, nil)
	if err == nil {
		t.Fatal("expected an error without a model path")
	}
	if b != nil {
		t.Fatalf("expected nil backbone, got %v", b)
	}
}

// TestForward runs a real model when TUMORCAM_TFLITE_MODEL points at one.
func TestForward(t *testing.T) {
	path := os.Getenv("TUMORCAM_TFLITE_MODEL")
	if path == "" {
		t.Skip("TUMORCAM_TFLITE_MODEL not set")
	}

	b, err := New(model.Config{ModelPath: path, Threads: 1}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = b.Close() }()

	h, w, c := b.InputShape()
	if c != 3 {
		t.Fatalf("input channels = %d, want 3", c)
	}
	out, err := b.Forward(model.NewTensor(h, w, c))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	oh, ow, oc := b.OutputShape()
	if out.Height != oh || out.Width != ow || out.Channels != oc {
		t.Errorf("output shape %v, want [1 %d %d %d]", out.Shape(), oh, ow, oc)
	}
	if err := out.Validate(); err != nil {
		t.Errorf("output invalid: %v", err)
	}

	if _, err := b.Forward(model.NewTensor(h+1, w, c)); err == nil {
		t.Error("expected an error for a mismatched input shape")
	}
}
