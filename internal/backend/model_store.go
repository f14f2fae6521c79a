package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go-image-upscaler/internal/logger"
	"go-image-upscaler/pkg/models"

	"github.com/sirupsen/logrus"
)

// modelFile is the weight file path inside a model repository
const modelFile = "onnx/model.onnx"

// ModelStore locates model files locally, in the cache, or on the remote host
type ModelStore struct {
	env    Env
	client *http.Client
}

// NewModelStore creates a store for env
func NewModelStore(env Env) *ModelStore {
	if env.RemoteHost == "" {
		env.RemoteHost = "https://huggingface.co"
	}
	return &ModelStore{
		env:    env,
		client: &http.Client{Timeout: 30 * time.Minute},
	}
}

// Resolve returns a filesystem path for modelID's weights. The returned cleanup must be
// called once the file has been loaded; it removes temporary downloads.
func (s *ModelStore) Resolve(ctx context.Context, modelID string, opts Options) (string, func(), error) {
	if err := validateModelID(modelID); err != nil {
		return "", nil, err
	}
	rel := filepath.Join(filepath.FromSlash(modelID), filepath.FromSlash(modelFile))
	opts.emit(models.ProgressEvent{Status: "initiate", Name: modelID, File: modelFile})

	if s.env.AllowLocalModels {
		if p := filepath.Join(s.env.ModelDir, rel); fileExists(p) {
			opts.emit(models.ProgressEvent{Status: "done", Name: modelID, File: modelFile})
			return p, func() {}, nil
		}
	}
	if s.env.UseCache {
		if p := filepath.Join(s.env.CacheDir, rel); fileExists(p) {
			opts.emit(models.ProgressEvent{Status: "done", Name: modelID, File: modelFile})
			return p, func() {}, nil
		}
	}

	dest := ""
	if s.env.UseCache {
		dest = filepath.Join(s.env.CacheDir, rel)
	}
	p, err := s.download(ctx, modelID, dest, opts)
	if err != nil {
		return "", nil, err
	}
	opts.emit(models.ProgressEvent{Status: "done", Name: modelID, File: modelFile})

	if dest != "" {
		return p, func() {}, nil
	}
	return p, func() { _ = os.Remove(p) }, nil
}

// RemoteURL is where modelID's weights are downloaded from
func (s *ModelStore) RemoteURL(modelID string) string {
	return strings.TrimRight(s.env.RemoteHost, "/") + "/" + path.Join(modelID, "resolve", "main", modelFile)
}

func (s *ModelStore) download(ctx context.Context, modelID, dest string, opts Options) (string, error) {
	url := s.RemoteURL(modelID)
	opts.emit(models.ProgressEvent{Status: "download", Name: modelID, File: modelFile})

	logger.WithFields(logrus.Fields{
		"model": modelID,
		"url":   url,
	}).Info("Downloading model weights")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid model URL: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download model %s: %w", modelID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download model %s: status code %d", modelID, resp.StatusCode)
	}

	dir := os.TempDir()
	if dest != "" {
		dir = filepath.Dir(dest)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create model cache directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, "model-*.onnx.part")
	if err != nil {
		return "", fmt.Errorf("failed to create model file: %w", err)
	}

	pw := &progressWriter{
		opts:  opts,
		name:  modelID,
		total: resp.ContentLength,
	}
	_, copyErr := io.Copy(tmp, io.TeeReader(resp.Body, pw))
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if copyErr == nil {
			copyErr = closeErr
		}
		return "", fmt.Errorf("failed to write model %s: %w", modelID, copyErr)
	}

	if dest == "" {
		return tmp.Name(), nil
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store model %s in cache: %w", modelID, err)
	}
	return dest, nil
}

// progressWriter emits a progress event for each whole percent downloaded
type progressWriter struct {
	opts    Options
	name    string
	total   int64
	loaded  int64
	lastPct int
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.loaded += int64(len(p))
	if w.total <= 0 {
		return len(p), nil
	}
	pct := int(w.loaded * 100 / w.total)
	if pct > w.lastPct {
		w.lastPct = pct
		w.opts.emit(models.ProgressEvent{
			Status:   "progress",
			Name:     w.name,
			File:     modelFile,
			Progress: float64(w.loaded) * 100 / float64(w.total),
			Loaded:   w.loaded,
			Total:    w.total,
		})
	}
	return len(p), nil
}

func validateModelID(modelID string) error {
	if strings.TrimSpace(modelID) == "" {
		return fmt.Errorf("model identifier is empty")
	}
	for _, part := range strings.Split(modelID, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid model identifier %q", modelID)
		}
	}
	return nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
