package provision

import (
	"context"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/kiln/internal/storage"
)

// libvirtClient defines the libvirt operations needed for provisioning.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type libvirtClient interface {
	// DomainLookupByName looks up a domain by name
	DomainLookupByName(name string) (libvirt.Domain, error)

	// DomainDefineXML defines a domain from XML
	DomainDefineXML(xml string) (libvirt.Domain, error)

	// DomainCreate starts a domain
	DomainCreate(dom libvirt.Domain) error

	// DomainGetState gets the state of a domain
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)

	// NetworkLookupByName looks up a network by name
	NetworkLookupByName(name string) (libvirt.Network, error)

	// NetworkDefineXML defines a network from XML
	NetworkDefineXML(xml string) (libvirt.Network, error)

	// NetworkCreate starts a network
	NetworkCreate(net libvirt.Network) error

	// NetworkSetAutostart sets autostart for a network
	NetworkSetAutostart(net libvirt.Network, autostart int32) error

	// NetworkGetXMLDesc returns the live network definition
	NetworkGetXMLDesc(net libvirt.Network, flags uint32) (string, error)

	// NetworkUpdate modifies a section of a live network
	NetworkUpdate(net libvirt.Network, command uint32, section uint32, parentIndex int32, xml string, flags libvirt.NetworkUpdateFlags) error
}

// storageManager defines the storage operations needed for provisioning.
//
// In production, this is satisfied by *storage.Manager.
type storageManager interface {
	// EnsureGroupPool ensures the resource group's pool exists
	EnsureGroupPool(ctx context.Context, group string) error

	// EnsureImagesPool ensures the durable images pool exists
	EnsureImagesPool(ctx context.Context) error

	// ImageExists checks whether an image is present in the images pool
	ImageExists(ctx context.Context, imageName string) (bool, error)

	// GetImagePath returns the filesystem path of an image
	GetImagePath(ctx context.Context, imageName string) (string, error)

	// VolumeExists checks if a volume exists in a pool
	VolumeExists(ctx context.Context, poolName, volumeName string) (bool, error)

	// CreateVolume creates a new volume in a pool
	CreateVolume(ctx context.Context, poolName string, spec storage.VolumeSpec) error

	// WriteVolumeData creates a raw volume and uploads data into it
	WriteVolumeData(ctx context.Context, poolName, volumeName string, data []byte) error
}
