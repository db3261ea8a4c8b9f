package ingest

import (
	"fmt"
	"net/http"
	"os"
)

// LoadFile reads an image from disk and sniffs its MIME type.
func LoadFile(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read image %s: %w", path, err)
	}
	return Image{Data: data, MIMEType: http.DetectContentType(data), Source: path}, nil
}
