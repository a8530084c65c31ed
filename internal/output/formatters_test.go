package output

import (
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func testImages() []*ImageRecord {
	return []*ImageRecord{
		{
			Name:       "wli-custom-image-job5-20260826093015",
			Path:       "/var/lib/kiln/images/wli-custom-image-job5-20260826093015",
			SizeBytes:  30 * 1024 * 1024 * 1024,
			AllocBytes: 4 * 1024 * 1024 * 1024,
		},
		{
			Name:       "debian-12.qcow2",
			Path:       "/var/lib/kiln/images/debian-12.qcow2",
			SizeBytes:  2 * 1024 * 1024 * 1024,
			AllocBytes: 600 * 1024 * 1024,
		},
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  Format
		wantErr bool
	}{
		{FormatTable, false},
		{FormatYAML, false},
		{FormatJSON, false},
		{Format("xml"), true},
		{Format(""), true},
	}

	for _, tt := range tests {
		_, err := NewFormatter(Options{Format: tt.format})
		if (err != nil) != tt.wantErr {
			t.Errorf("NewFormatter(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
		}
	}
}

func TestValidateFormat(t *testing.T) {
	for _, f := range []string{"table", "yaml", "json"} {
		if err := ValidateFormat(f); err != nil {
			t.Errorf("ValidateFormat(%q) error = %v", f, err)
		}
	}
	if err := ValidateFormat("csv"); err == nil {
		t.Error("ValidateFormat(csv) expected error")
	}
}

func TestTableFormatter(t *testing.T) {
	f := &TableFormatter{}
	out, err := f.FormatImageList(testImages())
	if err != nil {
		t.Fatalf("FormatImageList() error = %v", err)
	}

	if !strings.Contains(out, "NAME") || !strings.Contains(out, "SIZE") {
		t.Errorf("table missing headers:\n%s", out)
	}
	if !strings.Contains(out, "wli-custom-image-job5-20260826093015") {
		t.Errorf("table missing image name:\n%s", out)
	}
	if !strings.Contains(out, "30.0 GiB") {
		t.Errorf("table missing formatted size:\n%s", out)
	}
}

func TestTableFormatter_NoHeaders(t *testing.T) {
	f := &TableFormatter{NoHeaders: true}
	out, err := f.FormatImageList(testImages())
	if err != nil {
		t.Fatalf("FormatImageList() error = %v", err)
	}
	if strings.Contains(out, "NAME") {
		t.Errorf("headers present despite NoHeaders:\n%s", out)
	}
}

func TestTableFormatter_Empty(t *testing.T) {
	f := &TableFormatter{}
	out, err := f.FormatImageList(nil)
	if err != nil {
		t.Fatalf("FormatImageList() error = %v", err)
	}
	if out != "No images found\n" {
		t.Errorf("empty list output = %q", out)
	}
}

func TestJSONFormatter(t *testing.T) {
	f := &JSONFormatter{}
	out, err := f.FormatImageList(testImages())
	if err != nil {
		t.Fatalf("FormatImageList() error = %v", err)
	}

	var decoded []ImageRecord
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Errorf("decoded %d records, want 2", len(decoded))
	}
	if decoded[0].Name != "wli-custom-image-job5-20260826093015" {
		t.Errorf("first record = %+v", decoded[0])
	}

	empty, err := f.FormatImageList(nil)
	if err != nil || empty != "[]\n" {
		t.Errorf("empty list = %q, %v", empty, err)
	}
}

func TestYAMLFormatter(t *testing.T) {
	f := &YAMLFormatter{}
	out, err := f.FormatImageList(testImages())
	if err != nil {
		t.Fatalf("FormatImageList() error = %v", err)
	}

	// YAML stream: two documents separated by ---.
	docs := strings.Split(out, "---\n")
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2:\n%s", len(docs), out)
	}

	var decoded ImageRecord
	if err := yaml.Unmarshal([]byte(docs[1]), &decoded); err != nil {
		t.Fatalf("second document is not valid YAML: %v", err)
	}
	if decoded.Name != "debian-12.qcow2" {
		t.Errorf("second record = %+v", decoded)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{30 * 1024 * 1024 * 1024, "30.0 GiB"},
		{1536 * 1024 * 1024 * 1024, "1.5 TiB"},
	}

	for _, tt := range tests {
		if got := formatSize(tt.bytes); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}
