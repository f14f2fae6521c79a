// Package backend defines the inference capability the upscale worker drives and
// provides an ONNX Runtime implementation of it.
package backend

import (
	"context"

	"go-image-upscaler/pkg/models"
)

// TaskImageToImage is the only task the upscaler requests
const TaskImageToImage = "image-to-image"

// ProgressCallback receives load and inference progress
type ProgressCallback func(models.ProgressEvent)

// Options configures pipeline construction
type Options struct {
	ProgressCallback ProgressCallback
}

func (o Options) emit(ev models.ProgressEvent) {
	if o.ProgressCallback != nil {
		o.ProgressCallback(ev)
	}
}

// Pipeline is a loaded, ready-to-invoke model
type Pipeline interface {
	// Run upscales the image referenced by imageURL
	Run(ctx context.Context, imageURL string) (*models.UpscaleOutput, error)
	Close() error
}

// InferenceBackend constructs pipelines for a task and model identifier
type InferenceBackend interface {
	Pipeline(ctx context.Context, task, modelID string, opts Options) (Pipeline, error)
}

// Env is the backend environment. The flags only affect where model files come from.
type Env struct {
	AllowLocalModels bool
	UseCache         bool
	ModelDir         string
	CacheDir         string
	RemoteHost       string
	LibraryPath      string
	IntraOpThreads   int
}
