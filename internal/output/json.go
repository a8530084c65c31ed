package output

import (
	"encoding/json"
	"fmt"
)

// JSONFormatter formats image records as JSON.
type JSONFormatter struct{}

// FormatImage formats a single image record as JSON.
func (f *JSONFormatter) FormatImage(img *ImageRecord) (string, error) {
	data, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal image to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

// FormatImageList formats a list of image records as a JSON array.
func (f *JSONFormatter) FormatImageList(imgs []*ImageRecord) (string, error) {
	if len(imgs) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(imgs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal images to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
