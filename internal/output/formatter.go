// Package output provides formatters for displaying captured images
// in various formats (table, YAML, JSON).
package output

import "fmt"

// ImageRecord is one image in the images pool as shown to the user.
type ImageRecord struct {
	Name       string `json:"name" yaml:"name"`
	Path       string `json:"path" yaml:"path"`
	SizeBytes  uint64 `json:"sizeBytes" yaml:"sizeBytes"`
	AllocBytes uint64 `json:"allocatedBytes" yaml:"allocatedBytes"`
}

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Formatter formats image records for output.
type Formatter interface {
	// FormatImage formats a single image record.
	FormatImage(img *ImageRecord) (string, error)

	// FormatImageList formats a list of image records.
	FormatImageList(imgs []*ImageRecord) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	switch Format(format) {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}
