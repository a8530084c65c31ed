package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
)

// TableFormatter formats image records as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatImage formats a single image record as a table row.
func (f *TableFormatter) FormatImage(img *ImageRecord) (string, error) {
	return f.FormatImageList([]*ImageRecord{img})
}

// FormatImageList formats a list of image records as a table.
func (f *TableFormatter) FormatImageList(imgs []*ImageRecord) (string, error) {
	if len(imgs) == 0 {
		return "No images found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tSIZE\tALLOCATED\tPATH")
	}

	for _, img := range imgs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			img.Name, formatSize(img.SizeBytes), formatSize(img.AllocBytes), img.Path)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// formatSize renders a byte count with a binary unit suffix.
// Examples: "512 B", "30.0 GiB", "1.5 TiB"
func formatSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
