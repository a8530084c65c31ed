package cloudinit

import (
	"bytes"
	"io"
	"testing"

	"github.com/kdomanski/iso9660"
)

func TestGenerateISO(t *testing.T) {
	seed := &Seed{
		Hostname:      "wli-build-vm-job5-20260826093015",
		InstanceID:    "job5-20260826093015",
		AdminUsername: "kilnadmin",
		AdminSecret:   "s3cret",
		SSHKeys:       []string{testSSHKey},
	}

	isoBytes, err := GenerateISO(seed)
	if err != nil {
		t.Fatalf("GenerateISO() error = %v", err)
	}
	if len(isoBytes) == 0 {
		t.Fatal("GenerateISO() returned empty byte slice")
	}

	img, err := iso9660.OpenImage(bytes.NewReader(isoBytes))
	if err != nil {
		t.Fatalf("failed to open ISO image: %v", err)
	}

	volumeID, err := img.Label()
	if err != nil {
		t.Fatalf("failed to get volume label: %v", err)
	}
	if volumeID != "CIDATA" {
		t.Errorf("ISO volume identifier = %q, want CIDATA", volumeID)
	}

	rootDir, err := img.RootDir()
	if err != nil {
		t.Fatalf("failed to get root directory: %v", err)
	}
	children, err := rootDir.GetChildren()
	if err != nil {
		t.Fatalf("failed to get children: %v", err)
	}

	// Exactly user-data and meta-data; no network-config since addressing
	// comes from the build network's DHCP reservation.
	if len(children) != 2 {
		t.Errorf("ISO contains %d files, want 2", len(children))
	}

	expected := map[string]func(*Seed) (string, error){
		"user-data": GenerateUserData,
		"meta-data": GenerateMetaData,
	}

	for name, generate := range expected {
		found := false
		for _, child := range children {
			if child.Name() != name {
				continue
			}
			found = true

			content, err := io.ReadAll(child.Reader())
			if err != nil {
				t.Errorf("failed to read %s: %v", name, err)
				break
			}
			want, err := generate(seed)
			if err != nil {
				t.Errorf("failed to generate expected %s: %v", name, err)
				break
			}
			if string(content) != want {
				t.Errorf("%s content mismatch:\ngot:\n%s\n\nwant:\n%s", name, content, want)
			}
			break
		}
		if !found {
			t.Errorf("required file %q not found in ISO", name)
		}
	}
}

func TestGenerateISO_NilSeed(t *testing.T) {
	if _, err := GenerateISO(nil); err == nil {
		t.Fatal("GenerateISO(nil) expected error")
	}
}
