package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"net/url"
	"strings"
)

// DataURLFetcher decodes images embedded in data: URLs, the form uploads take
type DataURLFetcher struct {
	maxBytes int64
}

// NewDataURLFetcher creates a fetcher that refuses payloads larger than maxBytes (0 = unlimited)
func NewDataURLFetcher(maxBytes int64) *DataURLFetcher {
	return &DataURLFetcher{maxBytes: maxBytes}
}

func (d *DataURLFetcher) FetchImage(ctx context.Context, imageURL string) (image.Image, error) {
	raw, err := ParseDataURL(imageURL)
	if err != nil {
		return nil, err
	}
	if d.maxBytes > 0 && int64(len(raw)) > d.maxBytes {
		return nil, fmt.Errorf("data URL payload too large: %d bytes (limit %d)", len(raw), d.maxBytes)
	}
	return DecodeImage(bytes.NewReader(raw))
}

// ParseDataURL returns the payload bytes of a data: URL
func ParseDataURL(dataURL string) ([]byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("data URL has no payload separator")
	}
	if strings.HasSuffix(meta, ";base64") {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
		return raw, nil
	}
	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid data URL payload: %w", err)
	}
	return []byte(unescaped), nil
}
