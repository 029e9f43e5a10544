// Package tflite runs the convolutional part of the classifier with TensorFlow Lite.
// The model file must be truncated at the Grad-CAM target layer: one float32 input
// [1 h w 3] and one float32 output [1 fh fw c].
package tflite

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	tflite "github.com/tphakala/go-tflite"

	"github.com/jo-hoe/tumorcam/internal/model"
)

// Backbone wraps a TensorFlow Lite interpreter. The interpreter is not safe for
// concurrent use, so Forward serialises calls.
type Backbone struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter

	inH, inW                int
	outH, outW, outChannels int
}

// New loads the model at cfg.ModelPath and allocates its tensors.
func New(cfg model.Config, _ *model.Weights) (model.Backbone, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("tflite backend requires a model path")
	}

	m := tflite.NewModelFromFile(cfg.ModelPath)
	if m == nil {
		return nil, fmt.Errorf("cannot load TensorFlow Lite model %s", cfg.ModelPath)
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		slog.Error("TFLite error", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(m, options)
	if interpreter == nil {
		options.Delete()
		m.Delete()
		return nil, fmt.Errorf("cannot create interpreter")
	}

	b := &Backbone{model: m, options: options, interpreter: interpreter}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		b.release()
		return nil, fmt.Errorf("tensor allocation failed: %v", status)
	}
	if err := b.inspect(cfg); err != nil {
		b.release()
		return nil, err
	}

	slog.Info("TFLite backbone initialized",
		"model", cfg.ModelPath,
		"threads", threads,
		"input_shape", []int{1, b.inH, b.inW, 3},
		"output_shape", []int{1, b.outH, b.outW, b.outChannels})
	return b, nil
}

// inspect reads the tensor shapes and checks them against the configured input size.
func (b *Backbone) inspect(cfg model.Config) error {
	if n := b.interpreter.GetInputTensorCount(); n != 1 {
		return fmt.Errorf("model must have exactly one input tensor, has %d", n)
	}
	in := b.interpreter.GetInputTensor(0)
	if in == nil {
		return fmt.Errorf("cannot get input tensor")
	}
	if in.Type() != tflite.Float32 {
		return fmt.Errorf("model input must be float32, got %v", in.Type())
	}
	inShape, err := shape4(in)
	if err != nil {
		return fmt.Errorf("input tensor: %w", err)
	}
	if inShape[3] != 3 {
		return fmt.Errorf("model input must have 3 channels, has %d", inShape[3])
	}
	if (cfg.InputHeight > 0 && inShape[1] != cfg.InputHeight) || (cfg.InputWidth > 0 && inShape[2] != cfg.InputWidth) {
		return fmt.Errorf("model input is %dx%d but configuration requests %dx%d",
			inShape[2], inShape[1], cfg.InputWidth, cfg.InputHeight)
	}

	out := b.interpreter.GetOutputTensor(0)
	if out == nil {
		return fmt.Errorf("cannot get output tensor")
	}
	if out.Type() != tflite.Float32 {
		return fmt.Errorf("model output must be float32, got %v", out.Type())
	}
	outShape, err := shape4(out)
	if err != nil {
		return fmt.Errorf("output tensor: %w", err)
	}

	b.inH, b.inW = inShape[1], inShape[2]
	b.outH, b.outW, b.outChannels = outShape[1], outShape[2], outShape[3]
	return nil
}

func shape4(t *tflite.Tensor) ([4]int, error) {
	var s [4]int
	if n := t.NumDims(); n != 4 {
		return s, fmt.Errorf("expected 4 dimensions, got %d", n)
	}
	for i := range s {
		s[i] = t.Dim(i)
	}
	if s[0] != 1 {
		return s, fmt.Errorf("batch size must be 1, got %d", s[0])
	}
	return s, nil
}

func (b *Backbone) Name() string { return "tflite" }

func (b *Backbone) InputShape() (int, int, int) { return b.inH, b.inW, 3 }

func (b *Backbone) OutputShape() (int, int, int) { return b.outH, b.outW, b.outChannels }

// ParameterCount is unknown for a compiled graph.
func (b *Backbone) ParameterCount() int { return 0 }

// Forward copies input into the interpreter, invokes it and returns the feature map.
func (b *Backbone) Forward(input *model.Tensor) (*model.Tensor, error) {
	if input.Height != b.inH || input.Width != b.inW || input.Channels != 3 {
		return nil, fmt.Errorf("input shape %v does not match model input [1 %d %d 3]", input.Shape(), b.inH, b.inW)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.interpreter == nil {
		return nil, fmt.Errorf("interpreter is closed")
	}
	inputTensor := b.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	copy(inputTensor.Float32s(), input.Data)

	if status := b.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	outputTensor := b.interpreter.GetOutputTensor(0)
	out := model.NewTensor(b.outH, b.outW, b.outChannels)
	if n := copy(out.Data, outputTensor.Float32s()); n != len(out.Data) {
		return nil, fmt.Errorf("output tensor has %d values, expected %d", n, len(out.Data))
	}
	return out, nil
}

// Close deletes the interpreter and model. It is safe to call more than once.
func (b *Backbone) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release()
	return nil
}

func (b *Backbone) release() {
	if b.interpreter != nil {
		b.interpreter.Delete()
		b.interpreter = nil
	}
	if b.options != nil {
		b.options.Delete()
		b.options = nil
	}
	if b.model != nil {
		b.model.Delete()
		b.model = nil
	}
}

func init() {
	if err := model.DefaultRegistry.Register("tflite", New); err != nil {
		panic(fmt.Sprintf("failed to register tflite backend: %v", err))
	}
}
