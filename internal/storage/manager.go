// Package storage manages the libvirt storage pools and volumes that back an
// image build: the per-job group pool holding ephemeral build volumes, and
// the durable images pool holding base images and captured output images.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/digitalocean/go-libvirt"
)

const (
	// ImagesPool is the durable pool holding base images and captured images.
	// It is never deleted and is shared by all jobs.
	ImagesPool = "kiln-images"

	// imagesSubdir and groupsSubdir are the pool directories under the
	// storage root.
	imagesSubdir = "images"
	groupsSubdir = "groups"
)

// LibvirtClient is the interface for the storage operations used by the
// manager. In production it is satisfied by *libvirt.Libvirt; tests supply
// mocks.
type LibvirtClient interface {
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolDefineXML(XML string, Flags uint32) (libvirt.StoragePool, error)
	StoragePoolCreate(Pool libvirt.StoragePool, Flags libvirt.StoragePoolCreateFlags) error
	StoragePoolBuild(Pool libvirt.StoragePool, Flags libvirt.StoragePoolBuildFlags) error
	StoragePoolSetAutostart(Pool libvirt.StoragePool, Autostart int32) error
	StoragePoolUndefine(Pool libvirt.StoragePool) error
	StoragePoolRefresh(Pool libvirt.StoragePool, Flags uint32) error
	StoragePoolListAllVolumes(Pool libvirt.StoragePool, NeedResults int32, Flags uint32) ([]libvirt.StorageVol, uint32, error)
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolCreateXML(Pool libvirt.StoragePool, XML string, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolCreateXMLFrom(Pool libvirt.StoragePool, XML string, Clonevol libvirt.StorageVol, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolDelete(Vol libvirt.StorageVol, Flags libvirt.StorageVolDeleteFlags) error
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)
	StorageVolGetInfo(Vol libvirt.StorageVol) (rType int8, rCapacity uint64, rAllocation uint64, err error)
	StorageVolUpload(Vol libvirt.StorageVol, outStream io.Reader, Offset uint64, Length uint64, Flags libvirt.StorageVolUploadFlags) error
}

// Manager coordinates pool and volume operations for builds.
type Manager struct {
	client LibvirtClient
	root   string
}

// NewManager creates a storage manager rooted at the given storage location.
func NewManager(client LibvirtClient, root string) *Manager {
	return &Manager{client: client, root: root}
}

// ImagesPoolPath returns the directory backing the images pool.
func (m *Manager) ImagesPoolPath() string {
	return filepath.Join(m.root, imagesSubdir)
}

// GroupPoolPath returns the directory backing a resource group's pool.
func (m *Manager) GroupPoolPath(group string) string {
	return filepath.Join(m.root, groupsSubdir, group)
}

// EnsureImagesPool ensures the durable images pool exists.
func (m *Manager) EnsureImagesPool(ctx context.Context) error {
	if err := m.EnsurePool(ctx, ImagesPool, m.ImagesPoolPath()); err != nil {
		return fmt.Errorf("failed to ensure images pool: %w", err)
	}
	return nil
}

// EnsureGroupPool ensures the pool for a resource group exists.
// Create-if-absent: re-running against an existing group is a no-op.
func (m *Manager) EnsureGroupPool(ctx context.Context, group string) error {
	if err := m.EnsurePool(ctx, group, m.GroupPoolPath(group)); err != nil {
		return fmt.Errorf("failed to ensure group pool %s: %w", group, err)
	}
	return nil
}

// PoolExists checks whether a pool is defined.
func (m *Manager) PoolExists(ctx context.Context, name string) bool {
	_, err := m.client.StoragePoolLookupByName(name)
	return err == nil
}
