package storage

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"strings"
)

// Router dispatches an image URL to the fetcher registered for its scheme.
// Host routes take precedence over scheme routes, so blob hosts reach the Azure fetcher.
type Router struct {
	schemes map[string]ImageFetcher
	hosts   map[string]ImageFetcher
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		schemes: make(map[string]ImageFetcher),
		hosts:   make(map[string]ImageFetcher),
	}
}

// HandleScheme registers f for every URL with the given scheme
func (r *Router) HandleScheme(scheme string, f ImageFetcher) {
	r.schemes[strings.ToLower(scheme)] = f
}

// HandleHost registers f for every URL with the given host
func (r *Router) HandleHost(host string, f ImageFetcher) {
	r.hosts[strings.ToLower(host)] = f
}

// Schemes lists the registered schemes
func (r *Router) Schemes() []string {
	out := make([]string, 0, len(r.schemes))
	for s := range r.schemes {
		out = append(out, s)
	}
	return out
}

func (r *Router) FetchImage(ctx context.Context, imageURL string) (image.Image, error) {
	f, err := r.route(imageURL)
	if err != nil {
		return nil, err
	}
	return f.FetchImage(ctx, imageURL)
}

func (r *Router) route(imageURL string) (ImageFetcher, error) {
	// data: URLs carry no host and may be huge, so skip url.Parse for them
	if strings.HasPrefix(imageURL, "data:") {
		if f, ok := r.schemes["data"]; ok {
			return f, nil
		}
		return nil, fmt.Errorf("unsupported image source scheme: data")
	}

	u, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}
	if f, ok := r.hosts[strings.ToLower(u.Host)]; ok {
		return f, nil
	}
	if f, ok := r.schemes[strings.ToLower(u.Scheme)]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("unsupported image source scheme: %q", u.Scheme)
}
