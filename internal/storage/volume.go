package storage

import (
	"bytes"
	"context"
	"fmt"

	libvirtxml "libvirt.org/go/libvirtxml"
)

// VolumeFormat represents the on-disk format of a volume.
type VolumeFormat string

const (
	VolumeFormatQCOW2 VolumeFormat = "qcow2"
	VolumeFormatRaw   VolumeFormat = "raw"
)

// VolumeSpec specifies how to create a storage volume.
type VolumeSpec struct {
	Name        string
	Format      VolumeFormat
	CapacityGB  uint64
	BackingPath string // optional qcow2 backing file path
}

// Validate checks the volume spec for structural errors.
func (v *VolumeSpec) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("volume name is required")
	}
	if v.Format != VolumeFormatQCOW2 && v.Format != VolumeFormatRaw {
		return fmt.Errorf("invalid volume format: %s (must be qcow2 or raw)", v.Format)
	}
	if v.CapacityGB == 0 {
		return fmt.Errorf("volume capacity must be greater than 0")
	}
	if v.BackingPath != "" && v.Format != VolumeFormatQCOW2 {
		return fmt.Errorf("backing files are only supported for qcow2 format")
	}
	return nil
}

// VolumeInfo describes an existing volume.
type VolumeInfo struct {
	Name       string
	Pool       string
	Path       string
	Capacity   uint64
	Allocation uint64
}

// CreateVolume creates a new volume in the named pool.
func (m *Manager) CreateVolume(ctx context.Context, poolName string, spec VolumeSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid volume spec: %w", err)
	}

	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	volumeXML, err := generateVolumeXML(spec)
	if err != nil {
		return fmt.Errorf("failed to generate volume XML: %w", err)
	}

	if _, err := m.client.StorageVolCreateXML(pool, volumeXML, 0); err != nil {
		return fmt.Errorf("failed to create volume: %w", err)
	}

	return nil
}

// CloneVolume copies an existing volume into another pool under a new name
// and returns the path of the clone. The clone is standalone (no backing
// file), which is what makes it a durable image artifact.
func (m *Manager) CloneVolume(ctx context.Context, srcPool, srcName, dstPool, dstName string) (string, error) {
	sp, err := m.client.StoragePoolLookupByName(srcPool)
	if err != nil {
		return "", fmt.Errorf("source pool not found: %w", err)
	}
	sv, err := m.client.StorageVolLookupByName(sp, srcName)
	if err != nil {
		return "", fmt.Errorf("source volume not found: %w", err)
	}
	dp, err := m.client.StoragePoolLookupByName(dstPool)
	if err != nil {
		return "", fmt.Errorf("destination pool not found: %w", err)
	}

	_, capacity, _, err := m.client.StorageVolGetInfo(sv)
	if err != nil {
		return "", fmt.Errorf("failed to get source volume info: %w", err)
	}

	vol := &libvirtxml.StorageVolume{
		Type: "file",
		Name: dstName,
		Capacity: &libvirtxml.StorageVolumeSize{
			Value: capacity,
			Unit:  "B",
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(VolumeFormatQCOW2),
			},
			Permissions: &libvirtxml.StorageVolumeTargetPermissions{
				Owner: "107",
				Group: "107",
				Mode:  "0644",
			},
		},
	}
	volumeXML, err := vol.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal clone XML: %w", err)
	}

	dv, err := m.client.StorageVolCreateXMLFrom(dp, volumeXML, sv, 0)
	if err != nil {
		return "", fmt.Errorf("failed to clone volume: %w", err)
	}

	path, err := m.client.StorageVolGetPath(dv)
	if err != nil {
		return "", fmt.Errorf("failed to get clone path: %w", err)
	}

	return path, nil
}

// DeleteVolume deletes a volume from the named pool.
func (m *Manager) DeleteVolume(ctx context.Context, poolName, volumeName string) error {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	vol, err := m.client.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return fmt.Errorf("volume not found: %w", err)
	}

	if err := m.client.StorageVolDelete(vol, 0); err != nil {
		return fmt.Errorf("failed to delete volume: %w", err)
	}

	return nil
}

// VolumeExists checks whether a volume exists in the named pool. A missing
// pool counts as a missing volume, not an error.
func (m *Manager) VolumeExists(ctx context.Context, poolName, volumeName string) (bool, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return false, nil
	}

	if _, err := m.client.StorageVolLookupByName(pool, volumeName); err != nil {
		return false, nil
	}
	return true, nil
}

// GetVolumePath returns the filesystem path of a volume.
func (m *Manager) GetVolumePath(ctx context.Context, poolName, volumeName string) (string, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return "", fmt.Errorf("pool not found: %w", err)
	}

	vol, err := m.client.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return "", fmt.Errorf("volume not found: %w", err)
	}

	path, err := m.client.StorageVolGetPath(vol)
	if err != nil {
		return "", fmt.Errorf("failed to get volume path: %w", err)
	}

	return path, nil
}

// ListVolumes lists all volumes in the named pool.
func (m *Manager) ListVolumes(ctx context.Context, poolName string) ([]VolumeInfo, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}

	volumes, _, err := m.client.StoragePoolListAllVolumes(pool, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	var infos []VolumeInfo
	for _, vol := range volumes {
		path, err := m.client.StorageVolGetPath(vol)
		if err != nil {
			continue
		}
		_, capacity, allocation, err := m.client.StorageVolGetInfo(vol)
		if err != nil {
			continue
		}
		infos = append(infos, VolumeInfo{
			Name:       vol.Name,
			Pool:       poolName,
			Path:       path,
			Capacity:   capacity,
			Allocation: allocation,
		})
	}

	return infos, nil
}

// WriteVolumeData creates a raw volume sized to the data and uploads the data
// into it. Used for cloud-init seed ISOs.
func (m *Manager) WriteVolumeData(ctx context.Context, poolName, volumeName string, data []byte) error {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	vol, err := m.client.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		// Volume does not exist yet; create it sized to the payload.
		volXML, xmlErr := generateRawVolumeXML(volumeName, uint64(len(data)))
		if xmlErr != nil {
			return fmt.Errorf("failed to generate volume XML: %w", xmlErr)
		}
		vol, err = m.client.StorageVolCreateXML(pool, volXML, 0)
		if err != nil {
			return fmt.Errorf("failed to create volume: %w", err)
		}
	}

	reader := bytes.NewReader(data)
	if err := m.client.StorageVolUpload(vol, reader, 0, uint64(len(data)), 0); err != nil {
		return fmt.Errorf("failed to upload data to volume: %w", err)
	}

	return nil
}

func generateVolumeXML(spec VolumeSpec) (string, error) {
	capacityBytes := spec.CapacityGB * 1024 * 1024 * 1024

	vol := &libvirtxml.StorageVolume{
		Type: "file",
		Name: spec.Name,
		Capacity: &libvirtxml.StorageVolumeSize{
			Value: capacityBytes,
			Unit:  "B",
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(spec.Format),
			},
			Permissions: &libvirtxml.StorageVolumeTargetPermissions{
				Owner: "107",
				Group: "107",
				Mode:  "0644",
			},
		},
	}

	if spec.BackingPath != "" {
		vol.BackingStore = &libvirtxml.StorageVolumeBackingStore{
			Path: spec.BackingPath,
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(spec.Format),
			},
		}
	}

	xmlBytes, err := vol.Marshal()
	if err != nil {
		return "", err
	}
	return string(xmlBytes), nil
}

func generateRawVolumeXML(name string, sizeBytes uint64) (string, error) {
	vol := &libvirtxml.StorageVolume{
		Type: "file",
		Name: name,
		Capacity: &libvirtxml.StorageVolumeSize{
			Value: sizeBytes,
			Unit:  "B",
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(VolumeFormatRaw),
			},
			Permissions: &libvirtxml.StorageVolumeTargetPermissions{
				Owner: "107",
				Group: "107",
				Mode:  "0644",
			},
		},
	}

	xmlBytes, err := vol.Marshal()
	if err != nil {
		return "", err
	}
	return string(xmlBytes), nil
}
