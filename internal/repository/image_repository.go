package repository

import (
	"context"
	"errors"
	"image"

	apperrors "go-image-upscaler/internal/errors"
	"go-image-upscaler/internal/logger"
	"go-image-upscaler/internal/storage"

	"github.com/sirupsen/logrus"
)

// SourceRepository implements ImageRepository over a storage fetcher
type SourceRepository struct {
	fetcher   storage.ImageFetcher
	validator URLValidator
}

// NewImageRepository creates a repository that validates every URL before fetching it
func NewImageRepository(fetcher storage.ImageFetcher, validator URLValidator) *SourceRepository {
	return &SourceRepository{
		fetcher:   fetcher,
		validator: validator,
	}
}

// FetchImage retrieves an image and classifies failures as AppErrors
func (r *SourceRepository) FetchImage(ctx context.Context, imageURL string) (image.Image, error) {
	if err := r.ValidateImageURL(imageURL); err != nil {
		return nil, err
	}

	img, err := r.fetcher.FetchImage(ctx, imageURL)
	if err != nil {
		appErr := classifyFetchError(err)
		logger.WithError(err).WithFields(logrus.Fields{
			"error_type": appErr.Type,
			"source":     describeSource(imageURL),
		}).Warn("Image fetch failed")
		return nil, appErr
	}
	return img, nil
}

// ValidateImageURL validates if the provided URL is acceptable
func (r *SourceRepository) ValidateImageURL(imageURL string) error {
	if r.validator == nil {
		return nil
	}
	return r.validator.ValidateImageURL(imageURL)
}

func classifyFetchError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTimeoutError("Image fetch timeout", err)
	case errors.Is(err, storage.ErrImageNotFound):
		return apperrors.NewNotFoundError("Image not found", err)
	default:
		return apperrors.NewNetworkError("Failed to fetch image", err)
	}
}

// describeSource keeps data URL payloads out of logs
func describeSource(imageURL string) string {
	const limit = 64
	if len(imageURL) > limit {
		return imageURL[:limit] + "..."
	}
	return imageURL
}
