package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats image records as YAML.
type YAMLFormatter struct{}

// FormatImage formats a single image record as YAML.
func (f *YAMLFormatter) FormatImage(img *ImageRecord) (string, error) {
	data, err := yaml.Marshal(img)
	if err != nil {
		return "", fmt.Errorf("failed to marshal image to YAML: %w", err)
	}
	return string(data), nil
}

// FormatImageList formats a list of image records as a YAML stream
// (multiple documents separated by ---).
func (f *YAMLFormatter) FormatImageList(imgs []*ImageRecord) (string, error) {
	if len(imgs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer

	for i, img := range imgs {
		data, err := yaml.Marshal(img)
		if err != nil {
			return "", fmt.Errorf("failed to marshal image %s to YAML: %w", img.Name, err)
		}

		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}

	return buf.String(), nil
}
