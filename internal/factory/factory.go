package factory

import (
	"fmt"

	"go-image-upscaler/internal/backend"
	"go-image-upscaler/internal/config"
	"go-image-upscaler/internal/storage"
)

// BackendType represents different inference runtimes
type BackendType string

const (
	// ONNXBackend runs models with ONNX Runtime
	ONNXBackend BackendType = "onnx"
)

// StorageType represents different image source backends
type StorageType string

const (
	// DataStorage decodes inline data: URLs
	DataStorage StorageType = "data"
	// HTTPStorage for HTTP-based image fetching
	HTTPStorage StorageType = "http"
	// AzureStorage for Azure blob storage
	AzureStorage StorageType = "azure"
	// LocalStorage for local file system
	LocalStorage StorageType = "local"
)

// BackendFactory creates inference backends
type BackendFactory interface {
	CreateBackend(backendType BackendType, images storage.ImageFetcher) (backend.InferenceBackend, error)
}

// StorageFactory creates storage implementations
type StorageFactory interface {
	CreateStorage(storageType StorageType) (storage.ImageFetcher, error)
}

// backendFactory implements BackendFactory
type backendFactory struct {
	env backend.Env
}

// NewBackendFactory creates a backend factory configured from cfg
func NewBackendFactory(cfg *config.Config) BackendFactory {
	return &backendFactory{
		env: backend.Env{
			AllowLocalModels: cfg.AllowLocalModels,
			UseCache:         cfg.UseModelCache,
			ModelDir:         cfg.ModelDir,
			CacheDir:         cfg.ModelCacheDir,
			RemoteHost:       cfg.ModelRemoteHost,
			LibraryPath:      cfg.ORTLibraryPath,
			IntraOpThreads:   cfg.InferenceThreads,
		},
	}
}

// CreateBackend creates a backend based on the specified type
func (f *backendFactory) CreateBackend(backendType BackendType, images storage.ImageFetcher) (backend.InferenceBackend, error) {
	switch backendType {
	case ONNXBackend:
		return backend.NewONNXBackend(f.env, images), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", backendType)
	}
}

// storageFactory implements StorageFactory
type storageFactory struct {
	cfg *config.Config
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(cfg *config.Config) StorageFactory {
	return &storageFactory{cfg: cfg}
}

// CreateStorage creates a storage implementation based on the specified type
func (f *storageFactory) CreateStorage(storageType StorageType) (storage.ImageFetcher, error) {
	switch storageType {
	case DataStorage:
		return storage.NewDataURLFetcher(f.cfg.MaxRequestBodySize), nil
	case HTTPStorage:
		return storage.NewHTTPImageFetcher(f.cfg.ImageFetchTimeout), nil
	case AzureStorage:
		if f.cfg.AzureAccount == "" {
			return nil, fmt.Errorf("azure storage requires AZURE_STORAGE_ACCOUNT")
		}
		fetcher, err := storage.NewAzureBlobFetcher(f.cfg.AzureAccount, f.cfg.AzureKey)
		if err != nil {
			return nil, err
		}
		return fetcher, nil
	case LocalStorage:
		return storage.NewLocalImageFetcher(f.cfg.LocalImageDir), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// BuildRouter creates every storage backend named in types and mounts it on a router.
// http serves both http and https, local serves file URLs, azure serves its account host.
func BuildRouter(f StorageFactory, types []string) (*storage.Router, error) {
	router := storage.NewRouter()
	for _, name := range types {
		st := StorageType(name)
		fetcher, err := f.CreateStorage(st)
		if err != nil {
			return nil, fmt.Errorf("storage backend %q: %w", name, err)
		}
		switch st {
		case DataStorage:
			router.HandleScheme("data", fetcher)
		case HTTPStorage:
			router.HandleScheme("http", fetcher)
			router.HandleScheme("https", fetcher)
		case LocalStorage:
			router.HandleScheme("file", fetcher)
		case AzureStorage:
			blob, ok := fetcher.(*storage.AzureBlobFetcher)
			if !ok {
				return nil, fmt.Errorf("storage backend %q: unexpected fetcher %T", name, fetcher)
			}
			router.HandleHost(blob.Host(), blob)
		}
	}
	return router, nil
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	BackendFactory BackendFactory
	StorageFactory StorageFactory
}

// NewComponentFactory creates a new component factory
func NewComponentFactory(cfg *config.Config) *ComponentFactory {
	return &ComponentFactory{
		BackendFactory: NewBackendFactory(cfg),
		StorageFactory: NewStorageFactory(cfg),
	}
}
