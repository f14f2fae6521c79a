package storage

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
)

// DecodeImage decodes any registered format, applying EXIF orientation
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// EncodePNG encodes img as PNG
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// EncodeDataURL renders img as a base64 PNG data URL
func EncodeDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Crop cuts rect out of img. rect is relative to the image origin and is clamped to its bounds.
func Crop(img image.Image, rect image.Rectangle) (*image.NRGBA, error) {
	b := img.Bounds()
	abs := rect.Add(b.Min).Intersect(b)
	if abs.Empty() {
		return nil, fmt.Errorf("crop region %v lies outside image bounds %v", rect, b)
	}
	return imaging.Crop(img, abs), nil
}
