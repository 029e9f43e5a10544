package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jo-hoe/tumorcam/internal/model/modeltest"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	config := fmt.Sprintf(`model:
  backend: native
  weightsPath: %q
  inputWidth: %d
  inputHeight: %d
log:
  level: error
`, modeltest.WriteWeights(t), modeltest.InputSize, modeltest.InputSize)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func writeScan(t *testing.T, name string, gray uint8) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, modeltest.PNG(t, modeltest.UniformImage(40, 30, gray)), 0o644); err != nil {
		t.Fatalf("failed to write scan: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := RootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPredictCommand(t *testing.T) {
	config := writeTestConfig(t)
	dark := writeScan(t, "dark.png", 20)
	bright := writeScan(t, "bright.png", 255)

	out, err := run(t, "--config", config, "predict", dark, bright)
	if err != nil {
		t.Fatalf("predict error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q, want two lines", out)
	}
	if !strings.Contains(lines[0], "No Tumor") || !strings.Contains(lines[1], "Tumor Present") {
		t.Errorf("output = %q, want No Tumor then Tumor Present", out)
	}
}

func TestPredictCommand_JSON(t *testing.T) {
	config := writeTestConfig(t)
	scan := writeScan(t, "scan.png", 255)

	out, err := run(t, "--config", config, "--json", "predict", scan)
	if err != nil {
		t.Fatalf("predict error = %v", err)
	}
	var results []predictOutput
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("failed to decode output %q: %v", out, err)
	}
	if len(results) != 1 || results[0].Label != "tumor" {
		t.Fatalf("results = %+v, want one tumor prediction", results)
	}
	if results[0].Confidence < 50 || results[0].Confidence > 100 {
		t.Errorf("confidence = %v, want a percentage of at least 50", results[0].Confidence)
	}
}

func TestPredictCommand_Errors(t *testing.T) {
	config := writeTestConfig(t)
	text := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(text, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"no arguments", []string{"--config", config, "predict"}},
		{"unsupported file", []string{"--config", config, "predict", text}},
		{"missing file", []string{"--config", config, "predict", filepath.Join(t.TempDir(), "missing.png")}},
		{"missing config", []string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "model"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
		})
	}
}

func TestGradCAMCommand(t *testing.T) {
	config := writeTestConfig(t)
	scan := writeScan(t, "scan.png", 255)
	output := filepath.Join(t.TempDir(), "overlay.png")

	out, err := run(t, "--config", config, "gradcam", scan, "-o", output, "--target", "no_tumor", "--alpha", "0.5")
	if err != nil {
		t.Fatalf("gradcam error = %v", err)
	}
	if !strings.Contains(out, output) {
		t.Errorf("output = %q, want the written path", out)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("overlay not written: %v", err)
	}
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("overlay is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("overlay = %dx%d, want 40x30", b.Dx(), b.Dy())
	}
}

func TestGradCAMCommand_DefaultOutput(t *testing.T) {
	config := writeTestConfig(t)
	scan := writeScan(t, "scan.png", 20)

	if _, err := run(t, "--config", config, "gradcam", scan); err != nil {
		t.Fatalf("gradcam error = %v", err)
	}
	want := filepath.Join(filepath.Dir(scan), "gradcam_scan.png")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected overlay at %s: %v", want, err)
	}

	if _, err := run(t, "--config", config, "gradcam", scan, "--target", "unknown"); err == nil {
		t.Errorf("expected error for an unknown target")
	}
	if _, err := run(t, "--config", config, "gradcam", scan, "--alpha", "2"); err == nil {
		t.Errorf("expected error for alpha outside [0,1]")
	}
}

func TestModelCommand(t *testing.T) {
	config := writeTestConfig(t)

	out, err := run(t, "--config", config, "model")
	if err != nil {
		t.Fatalf("model error = %v", err)
	}
	for _, want := range []string{"Backend:      native", "Parameters:", "No Tumor, Tumor Present"} {
		if !strings.Contains(out, want) {
			t.Errorf("output = %q, missing %q", out, want)
		}
	}

	out, err = run(t, "--config", config, "--json", "model")
	if err != nil {
		t.Fatalf("model --json error = %v", err)
	}
	var summary struct {
		Backend        string `json:"backend"`
		ParameterCount int    `json:"parameter_count"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.Backend != "native" || summary.ParameterCount == 0 {
		t.Errorf("summary = %+v", summary)
	}
}
