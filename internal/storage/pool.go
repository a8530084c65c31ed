package storage

import (
	"context"
	"fmt"
	"strings"

	libvirtxml "libvirt.org/go/libvirtxml"
)

// EnsurePool ensures a directory-backed storage pool exists, creating it if
// necessary. If the pool already exists this is a no-op.
func (m *Manager) EnsurePool(ctx context.Context, name, path string) error {
	_, err := m.client.StoragePoolLookupByName(name)
	if err == nil {
		return nil
	}

	return m.createPool(ctx, name, path)
}

// createPool defines, builds, starts, and autostarts a directory pool.
func (m *Manager) createPool(_ context.Context, name, path string) error {
	poolXML, err := generateDirPoolXML(name, path)
	if err != nil {
		return fmt.Errorf("failed to generate pool XML: %w", err)
	}

	pool, err := m.client.StoragePoolDefineXML(poolXML, 0)
	if err != nil {
		return fmt.Errorf("failed to define pool: %w", err)
	}

	if err := m.client.StoragePoolBuild(pool, 0); err != nil {
		_ = m.client.StoragePoolUndefine(pool)
		return fmt.Errorf("failed to build pool: %w", err)
	}

	if err := m.client.StoragePoolCreate(pool, 0); err != nil {
		_ = m.client.StoragePoolUndefine(pool)
		return fmt.Errorf("failed to start pool: %w", err)
	}

	if err := m.client.StoragePoolSetAutostart(pool, 1); err != nil {
		return fmt.Errorf("pool created but failed to set autostart: %w", err)
	}

	return nil
}

// RefreshPool refreshes a pool so volume listings reflect on-disk state.
func (m *Manager) RefreshPool(ctx context.Context, name string) error {
	pool, err := m.client.StoragePoolLookupByName(name)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	if err := m.client.StoragePoolRefresh(pool, 0); err != nil {
		return fmt.Errorf("failed to refresh pool: %w", err)
	}

	return nil
}

func generateDirPoolXML(name, path string) (string, error) {
	pool := &libvirtxml.StoragePool{
		Type: "dir",
		Name: name,
		Target: &libvirtxml.StoragePoolTarget{
			Path: path,
			Permissions: &libvirtxml.StoragePoolTargetPermissions{
				Owner: "107", // qemu user
				Group: "107", // qemu group
				Mode:  "0755",
			},
		},
	}

	xmlBytes, err := pool.Marshal()
	if err != nil {
		return "", err
	}

	xml := string(xmlBytes)
	xml = strings.TrimPrefix(xml, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>")
	xml = strings.TrimSpace(xml)

	return xml, nil
}
