package repository

import (
	"context"
	"image"
)

// ImageRepository defines the interface for image source access
type ImageRepository interface {
	// FetchImage validates imageURL and loads the image it points to
	FetchImage(ctx context.Context, imageURL string) (image.Image, error)

	// ValidateImageURL validates if the provided URL is acceptable
	ValidateImageURL(imageURL string) error
}

// URLValidator checks a source reference before it is fetched
type URLValidator interface {
	ValidateImageURL(imageURL string) error
}
