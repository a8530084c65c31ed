// Package cleanup tears down the ephemeral build resources after capture:
// the build VM, its boot and seed volumes, and the DHCP reservation. The
// resource group's pool, the build network, and everything in the images
// pool survive.
package cleanup

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	libvirtxml "libvirt.org/go/libvirtxml"

	"github.com/jbweber/kiln/internal/naming"
)

// libvirtClient defines the libvirt operations needed for cleanup.
type libvirtClient interface {
	// DomainLookupByName looks up a domain by name
	DomainLookupByName(name string) (libvirt.Domain, error)

	// DomainGetState gets the state of a domain
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)

	// DomainDestroy force-stops a domain
	DomainDestroy(dom libvirt.Domain) error

	// DomainUndefineFlags undefines a domain with flags (e.g., NVRAM cleanup)
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error

	// NetworkLookupByName looks up a network by name
	NetworkLookupByName(name string) (libvirt.Network, error)

	// NetworkGetXMLDesc returns the live network definition
	NetworkGetXMLDesc(net libvirt.Network, flags uint32) (string, error)

	// NetworkUpdate modifies a section of a live network
	NetworkUpdate(net libvirt.Network, command uint32, section uint32, parentIndex int32, xml string, flags libvirt.NetworkUpdateFlags) error
}

// storageManager defines the storage operations needed for cleanup.
type storageManager interface {
	// VolumeExists checks if a volume exists in a pool
	VolumeExists(ctx context.Context, poolName, volumeName string) (bool, error)

	// DeleteVolume deletes a volume from a pool
	DeleteVolume(ctx context.Context, poolName, volumeName string) error
}

// Warning records one resource that could not be removed. Cleanup failures
// never fail a build; they are reported so the operator can remove the
// leftovers by hand.
type Warning struct {
	Resource string
	Kind     string
	Err      error
}

func (w Warning) String() string {
	return fmt.Sprintf("failed to remove %s %q: %v", w.Kind, w.Resource, w.Err)
}

// Coordinator removes ephemeral build resources best-effort.
type Coordinator struct {
	client  libvirtClient
	storage storageManager
}

// NewCoordinator creates a cleanup coordinator.
func NewCoordinator(client libvirtClient, storage storageManager) *Coordinator {
	return &Coordinator{client: client, storage: storage}
}

// Run removes the build VM, its volumes, and its DHCP reservation. Every
// removal is attempted regardless of earlier failures; already-absent
// resources are skipped silently. The returned warnings list is empty on
// full success.
func (c *Coordinator) Run(ctx context.Context, names naming.NameSet) []Warning {
	var warnings []Warning
	warn := func(resource, kind string, err error) {
		warnings = append(warnings, Warning{Resource: resource, Kind: kind, Err: err})
	}

	if err := c.removeDomain(names.VM); err != nil {
		warn(names.VM, "virtual machine", err)
	}

	for _, vol := range []string{naming.BootVolumeName(names.VM), naming.SeedVolumeName(names.VM)} {
		if err := c.removeVolume(ctx, names.ResourceGroup, vol); err != nil {
			warn(vol, "volume", err)
		}
	}

	if err := c.removeReservation(names); err != nil {
		warn(names.TransientIP, "IP reservation", err)
	}

	return warnings
}

// removeDomain force-stops and undefines the build VM. A missing domain
// means a previous cleanup already removed it.
func (c *Coordinator) removeDomain(name string) error {
	dom, err := c.client.DomainLookupByName(name)
	if err != nil {
		return nil
	}

	state, _, err := c.client.DomainGetState(dom, 0)
	if err != nil {
		return fmt.Errorf("failed to query state: %w", err)
	}
	if state == int32(libvirt.DomainRunning) {
		if err := c.client.DomainDestroy(dom); err != nil {
			return fmt.Errorf("failed to stop: %w", err)
		}
	}

	if err := c.client.DomainUndefineFlags(dom, libvirt.DomainUndefineNvram); err != nil {
		return fmt.Errorf("failed to undefine: %w", err)
	}
	return nil
}

func (c *Coordinator) removeVolume(ctx context.Context, pool, name string) error {
	exists, err := c.storage.VolumeExists(ctx, pool, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return c.storage.DeleteVolume(ctx, pool, name)
}

// removeReservation drops the build's DHCP host entry from the network. The
// network itself is durable and stays up for the next job.
func (c *Coordinator) removeReservation(names naming.NameSet) error {
	net, err := c.client.NetworkLookupByName(names.Network)
	if err != nil {
		return nil
	}

	mac := naming.MACForBuild(names.JobNumber, names.BuildTimestamp)
	hostXML, found, err := c.findReservation(net, mac)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	err = c.client.NetworkUpdate(net,
		uint32(libvirt.NetworkUpdateCommandDelete),
		uint32(libvirt.NetworkSectionIPDhcpHost),
		-1,
		hostXML,
		libvirt.NetworkUpdateAffectLive|libvirt.NetworkUpdateAffectConfig)
	if err != nil {
		return fmt.Errorf("failed to delete DHCP reservation: %w", err)
	}
	return nil
}

func (c *Coordinator) findReservation(net libvirt.Network, mac string) (string, bool, error) {
	xmlDesc, err := c.client.NetworkGetXMLDesc(net, 0)
	if err != nil {
		return "", false, fmt.Errorf("failed to read network definition: %w", err)
	}

	var netXML libvirtxml.Network
	if err := netXML.Unmarshal(xmlDesc); err != nil {
		return "", false, fmt.Errorf("failed to parse network XML: %w", err)
	}

	for _, ip := range netXML.IPs {
		if ip.DHCP == nil {
			continue
		}
		for _, host := range ip.DHCP.Hosts {
			if host.MAC == mac {
				return fmt.Sprintf(`<host mac=%q name=%q ip=%q/>`, host.MAC, host.Name, host.IP), true, nil
			}
		}
	}
	return "", false, nil
}
