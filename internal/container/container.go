package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go-image-upscaler/internal/backend"
	"go-image-upscaler/internal/config"
	"go-image-upscaler/internal/factory"
	"go-image-upscaler/internal/logger"
	"go-image-upscaler/internal/observer"
	"go-image-upscaler/internal/pipeline"
	"go-image-upscaler/internal/repository"
	"go-image-upscaler/internal/session"
	"go-image-upscaler/internal/transport"
	"go-image-upscaler/internal/worker"
	"go-image-upscaler/pkg/validation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Container holds all application dependencies
type Container struct {
	config   *config.Config
	backend  backend.InferenceBackend
	cache    *pipeline.Cache
	worker   *worker.Worker
	sessions *session.Manager
	jobs     *transport.JobStore
	handler  http.Handler

	cancel context.CancelFunc
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	components := factory.NewComponentFactory(cfg)

	// Build dependency graph
	router, err := factory.BuildRouter(components.StorageFactory, cfg.StorageBackends)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage: %w", err)
	}
	images := repository.NewImageRepository(router, validation.NewURLValidatorWithOptions(allowedSchemes(cfg.StorageBackends), nil))

	inference, err := components.BackendFactory.CreateBackend(factory.ONNXBackend, images)
	if err != nil {
		return nil, fmt.Errorf("failed to create inference backend: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observer.NewMetricsObserver(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	cache := pipeline.NewCache(inference, pipeline.ModelTable{
		Low:  cfg.LowQualityModel,
		High: cfg.HighQualityModel,
	})
	w := worker.New(cache, events)
	sessions := session.NewManager(w, images, cfg.MaxSelectionSize, cfg.SessionTTL)
	jobs := transport.NewJobStore(cfg.SessionTTL)

	handler := transport.NewHandler(transport.Dependencies{
		Config:    cfg,
		Sessions:  sessions,
		Worker:    w,
		Pipelines: cache,
		Images:    images,
		Jobs:      jobs,
		Metrics:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go sessions.Run(ctx)
	go jobs.Run(ctx)

	return &Container{
		config:   cfg,
		backend:  inference,
		cache:    cache,
		worker:   w,
		sessions: sessions,
		jobs:     jobs,
		handler:  handler,
		cancel:   cancel,
	}, nil
}

// allowedSchemes maps configured storage backends onto the URL schemes they serve
func allowedSchemes(backends []string) []string {
	var schemes []string
	for _, b := range backends {
		switch factory.StorageType(b) {
		case factory.DataStorage:
			schemes = append(schemes, "data")
		case factory.HTTPStorage:
			schemes = append(schemes, "http", "https")
		case factory.LocalStorage:
			schemes = append(schemes, "file")
		case factory.AzureStorage:
			schemes = append(schemes, "https")
		}
	}
	return schemes
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Shutdown waits for running jobs until ctx is done, then releases the model and runtime
func (c *Container) Shutdown(ctx context.Context) error {
	c.cancel()

	var errs []error
	if err := c.worker.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("jobs still running: %w", err))
	}
	if err := c.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close pipeline: %w", err))
	}
	if closer, ok := c.backend.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close backend: %w", err))
		}
	}
	return errors.Join(errs...)
}
