package ai

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// maxImageSize bounds what we are willing to base64 into a request body (20MB).
const maxImageSize = 20 * 1024 * 1024

// imageData is a decoded-and-validated image ready to embed in a request.
type imageData struct {
	MediaType string // e.g. "image/png"
	Base64    string
}

// DataURL returns the image as a data: URL (OpenAI style).
func (i *imageData) DataURL() string {
	return "data:" + i.MediaType + ";base64," + i.Base64
}

// loadImage opens path and decodes its header to make sure it is an image
// the backends accept. Every failure wraps ErrImage.
func loadImage(path string) (*imageData, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImage, err)
	}
	if info.Size() > maxImageSize {
		return nil, fmt.Errorf("%w: %s exceeds %dMB", ErrImage, path, maxImageSize/1024/1024)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImage, err)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImage, path, err)
	}

	return &imageData{
		MediaType: "image/" + format,
		Base64:    base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// loadOptionalImage is loadImage for an optional path; "" yields nil, nil.
func loadOptionalImage(path string) (*imageData, error) {
	if path == "" {
		return nil, nil
	}
	return loadImage(path)
}
