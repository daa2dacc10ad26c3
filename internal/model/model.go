package model

import "denoise-forge/internal/tensor"

// Batch pairs flattened inputs with their reconstruction targets.
type Batch struct {
	Inputs  []float32
	Targets []float32
	Size    int
}

// Model defines the training functionality the trainer relies on.
type Model interface {
	// TrainStep runs one optimizer step and returns the mean batch loss.
	TrainStep(batch Batch) (float64, error)
	// Evaluate returns the mean batch loss without updating weights.
	Evaluate(batch Batch) (float64, error)
	// Predict maps an [N,h,w,c] tensor to the model output for each sample.
	Predict(x *tensor.Tensor) (*tensor.Tensor, error)
	// InputShape returns the per-sample [h,w,c] shape.
	InputShape() tensor.Shape
}
