package backend

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go-image-upscaler/internal/logger"
	"go-image-upscaler/internal/storage"
	"go-image-upscaler/pkg/models"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	inputName  = "pixel_values"
	outputName = "reconstruction"

	// defaultScale applies to models whose id carries no xN factor
	defaultScale = 2

	// maxInputSide bounds the tensor fed to the model; larger inputs are downscaled first
	maxInputSide = 1024
)

var scalePattern = regexp.MustCompile(`(?i)(?:^|[-_/])x([2-8])(?:[-_]|$)`)

// scaleOf reads the upscale factor from ids like "swin2SR-classical-sr-x4-64"
func scaleOf(modelID string) int {
	if m := scalePattern.FindStringSubmatch(modelID); m != nil {
		return int(m[1][0] - '0')
	}
	return defaultScale
}

// ONNXBackend builds image-to-image pipelines on ONNX Runtime
type ONNXBackend struct {
	env     Env
	store   *ModelStore
	fetcher storage.ImageFetcher
	pool    *WorkerPool

	initOnce sync.Once
	initErr  error
}

// NewONNXBackend creates a backend that resolves images through fetcher
func NewONNXBackend(env Env, fetcher storage.ImageFetcher) *ONNXBackend {
	pool := NewWorkerPool(0)
	pool.Start()
	return &ONNXBackend{
		env:     env,
		store:   NewModelStore(env),
		fetcher: fetcher,
		pool:    pool,
	}
}

func (b *ONNXBackend) initEnvironment() error {
	b.initOnce.Do(func() {
		if b.env.LibraryPath != "" {
			ort.SetSharedLibraryPath(b.env.LibraryPath)
		}
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				b.initErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
			}
		}
	})
	return b.initErr
}

// Pipeline loads modelID and returns a pipeline bound to it
func (b *ONNXBackend) Pipeline(ctx context.Context, task, modelID string, opts Options) (Pipeline, error) {
	if task != TaskImageToImage {
		return nil, fmt.Errorf("unsupported task %q", task)
	}
	if err := b.initEnvironment(); err != nil {
		return nil, err
	}

	start := time.Now()
	path, cleanup, err := b.store.Resolve(ctx, modelID, opts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOptions.Destroy()
	if b.env.IntraOpThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(b.env.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputName}, []string{outputName}, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	opts.emit(models.ProgressEvent{Status: "ready", Name: modelID, File: modelFile})
	logger.WithFields(logrus.Fields{
		"model":       modelID,
		"path":        path,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Model loaded")

	return &onnxPipeline{
		modelID: modelID,
		scale:   scaleOf(modelID),
		session: session,
		fetcher: b.fetcher,
		pool:    b.pool,
	}, nil
}

// Close releases the ONNX environment and the conversion pool
func (b *ONNXBackend) Close() error {
	b.pool.Close()
	if ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

type onnxPipeline struct {
	modelID string
	scale   int
	fetcher storage.ImageFetcher
	pool    *WorkerPool

	mu      sync.RWMutex
	session *ort.DynamicAdvancedSession
}

func (p *onnxPipeline) Run(ctx context.Context, imageURL string) (*models.UpscaleOutput, error) {
	img, err := p.fetcher.FetchImage(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	if b := img.Bounds(); b.Dx() > maxInputSide || b.Dy() > maxInputSide {
		img = imaging.Fit(img, maxInputSide, maxInputSide, imaging.Lanczos)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	padW, padH := padTo(w, windowSize), padTo(h, windowSize)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(padH), int64(padW)), ImageToCHW(img, padW, padH, p.pool))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outW, outH := padW*p.scale, padH*p.scale
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(outH), int64(outW)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	p.mu.RLock()
	if p.session == nil {
		p.mu.RUnlock()
		return nil, fmt.Errorf("pipeline for %s is closed", p.modelID)
	}
	err = p.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output})
	p.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	result := CHWToImage(output.GetData(), outW, outH, w*p.scale, h*p.scale, p.pool)
	return &models.UpscaleOutput{
		Image:  result,
		Width:  result.Bounds().Dx(),
		Height: result.Bounds().Dy(),
		Scale:  p.scale,
		Model:  p.modelID,
	}, nil
}

// Close destroys the session once no Run holds it
func (p *onnxPipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Destroy()
	p.session = nil
	return err
}
