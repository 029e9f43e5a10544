package model

// Backbone maps a preprocessed input tensor to the activations of the target convolutional layer.
type Backbone interface {
	// Name identifies the backend, e.g. "native" or "tflite".
	Name() string
	// InputShape returns the expected input height, width and channels.
	InputShape() (height, width, channels int)
	// OutputShape returns the target layer's height, width and channels.
	OutputShape() (height, width, channels int)
	// ParameterCount returns the number of trainable parameters, or 0 when unknown.
	ParameterCount() int
	Forward(input *Tensor) (*Tensor, error)
	Close() error
}
