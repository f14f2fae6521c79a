package storage

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalImageFetcher reads images from a base directory via file:// URLs
type LocalImageFetcher struct {
	baseDir string
}

// NewLocalImageFetcher creates a fetcher rooted at baseDir
func NewLocalImageFetcher(baseDir string) *LocalImageFetcher {
	return &LocalImageFetcher{baseDir: baseDir}
}

func (l *LocalImageFetcher) FetchImage(ctx context.Context, imageURL string) (image.Image, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid file URL: %w", err)
	}
	key := strings.TrimPrefix(u.Host+u.Path, "/")

	path := filepath.Join(l.baseDir, key)
	// Security: prevent directory traversal
	base := filepath.Clean(l.baseDir)
	if rel, err := filepath.Rel(base, filepath.Clean(path)); err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("invalid key: path traversal detected")
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return DecodeImage(file)
}
