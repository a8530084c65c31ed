package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"
)

// GenerateISO creates a cloud-init NoCloud seed ISO from the seed definition.
//
// The generated ISO contains two files in the root directory:
//   - user-data: Cloud-config YAML with the transient admin account
//   - meta-data: Instance metadata (instance-id, local-hostname)
//
// Network configuration is intentionally absent: build VMs get their address
// from the build network's DHCP reservation.
//
// The ISO volume label is set to "CIDATA" as required by the cloud-init
// NoCloud datasource.
//
// Returns the ISO image as a byte slice, ready to be uploaded to libvirt
// storage.
func GenerateISO(seed *Seed) ([]byte, error) {
	if seed == nil {
		return nil, fmt.Errorf("seed cannot be nil")
	}

	userData, err := GenerateUserData(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	metaData, err := GenerateMetaData(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		// Cleanup temporary files created by the ISO writer. Errors during
		// cleanup don't fail the operation since the ISO has already been
		// generated.
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}

	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	var buf bytes.Buffer

	// The volume identifier "CIDATA" must be uppercase per the NoCloud
	// specification.
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}
