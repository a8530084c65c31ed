// Package provision creates the infrastructure a build VM needs: the
// resource group's storage pool, the durable build network, the boot and
// seed volumes, the DHCP reservation, and the domain itself.
//
// Every step is create-if-absent so a re-run against partially provisioned
// infrastructure continues instead of failing. On failure, resources created
// so far are left in place for the cleanup stage.
package provision

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	libvirtxml "libvirt.org/go/libvirtxml"

	"github.com/jbweber/kiln/internal/cloudinit"
	kilnlibvirt "github.com/jbweber/kiln/internal/libvirt"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/storage"
)

// Params carries the build configuration the provisioner needs. AdminSecret
// lives only in memory; it is written into the seed ISO and never logged.
type Params struct {
	BaseImage     string
	BootDiskGB    uint64
	MemoryMiB     uint
	VCPUs         uint
	AdminUsername string
	AdminSecret   string
	SSHKeys       []string
}

// Result describes the provisioned build VM.
type Result struct {
	Domain  libvirt.Domain
	VMName  string
	Network string
	Address string
}

// Error reports which resource failed to provision. Resources created before
// the failure are left in place.
type Error struct {
	ResourceGroup string
	Resource      string
	Kind          string
	Err           error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to provision %s %q in %s: %v", e.Kind, e.Resource, e.ResourceGroup, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Provisioner creates build infrastructure.
type Provisioner struct {
	client  libvirtClient
	storage storageManager
}

// NewProvisioner creates a provisioner using the given libvirt connection
// and storage manager.
func NewProvisioner(client libvirtClient, storage storageManager) *Provisioner {
	return &Provisioner{client: client, storage: storage}
}

// Provision brings up everything the build VM needs and starts it.
//
// Steps run in dependency order: pools, network, boot volume backed by the
// base image, cloud-init seed, DHCP reservation, domain definition, start.
// Each step skips work that already exists.
func (p *Provisioner) Provision(ctx context.Context, names naming.NameSet, params Params) (*Result, error) {
	fail := func(resource, kind string, err error) (*Result, error) {
		return nil, &Error{ResourceGroup: names.ResourceGroup, Resource: resource, Kind: kind, Err: err}
	}

	if err := p.storage.EnsureGroupPool(ctx, names.ResourceGroup); err != nil {
		return fail(names.ResourceGroup, "resource group", err)
	}
	if err := p.storage.EnsureImagesPool(ctx); err != nil {
		return fail(storage.ImagesPool, "images pool", err)
	}

	if err := p.ensureNetwork(names); err != nil {
		return fail(names.Network, "virtual network", err)
	}

	basePath, err := p.baseImagePath(ctx, params.BaseImage)
	if err != nil {
		return fail(params.BaseImage, "base image", err)
	}

	if err := p.ensureBootVolume(ctx, names, params, basePath); err != nil {
		return fail(naming.BootVolumeName(names.VM), "boot volume", err)
	}

	if err := p.ensureSeedVolume(ctx, names, params); err != nil {
		return fail(naming.SeedVolumeName(names.VM), "seed volume", err)
	}

	address, err := p.ensureAddressReservation(names)
	if err != nil {
		return fail(names.TransientIP, "IP reservation", err)
	}

	dom, err := p.ensureDomain(names, params)
	if err != nil {
		return fail(names.VM, "virtual machine", err)
	}

	if err := p.startDomain(dom); err != nil {
		return fail(names.VM, "virtual machine", err)
	}

	return &Result{
		Domain:  dom,
		VMName:  names.VM,
		Network: names.Network,
		Address: address,
	}, nil
}

// ensureNetwork looks up the durable build network, creating it on first use.
// The network survives cleanup so later jobs reuse it.
func (p *Provisioner) ensureNetwork(names naming.NameSet) error {
	if _, err := p.client.NetworkLookupByName(names.Network); err == nil {
		return nil
	}

	start, end := naming.DHCPRange(names.JobNumber)
	networkXML, err := kilnlibvirt.GenerateNetworkXML(kilnlibvirt.NetworkSpec{
		Name:      names.Network,
		Bridge:    naming.BridgeName(names.JobNumber),
		Gateway:   naming.GatewayAddress(names.JobNumber),
		Netmask:   naming.Netmask(),
		DHCPStart: start,
		DHCPEnd:   end,
	})
	if err != nil {
		return fmt.Errorf("failed to generate network XML: %w", err)
	}

	net, err := p.client.NetworkDefineXML(networkXML)
	if err != nil {
		return fmt.Errorf("failed to define network: %w", err)
	}
	if err := p.client.NetworkCreate(net); err != nil {
		return fmt.Errorf("failed to start network: %w", err)
	}
	if err := p.client.NetworkSetAutostart(net, 1); err != nil {
		return fmt.Errorf("failed to set network autostart: %w", err)
	}
	return nil
}

func (p *Provisioner) baseImagePath(ctx context.Context, baseImage string) (string, error) {
	exists, err := p.storage.ImageExists(ctx, baseImage)
	if err != nil {
		return "", fmt.Errorf("failed to check base image: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("base image %q not found in %s pool", baseImage, storage.ImagesPool)
	}
	return p.storage.GetImagePath(ctx, baseImage)
}

func (p *Provisioner) ensureBootVolume(ctx context.Context, names naming.NameSet, params Params, basePath string) error {
	volName := naming.BootVolumeName(names.VM)
	exists, err := p.storage.VolumeExists(ctx, names.ResourceGroup, volName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return p.storage.CreateVolume(ctx, names.ResourceGroup, storage.VolumeSpec{
		Name:        volName,
		Format:      storage.VolumeFormatQCOW2,
		CapacityGB:  params.BootDiskGB,
		BackingPath: basePath,
	})
}

func (p *Provisioner) ensureSeedVolume(ctx context.Context, names naming.NameSet, params Params) error {
	volName := naming.SeedVolumeName(names.VM)
	exists, err := p.storage.VolumeExists(ctx, names.ResourceGroup, volName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	isoBytes, err := cloudinit.GenerateISO(&cloudinit.Seed{
		Hostname:      names.VM,
		InstanceID:    fmt.Sprintf("job%d-%s", names.JobNumber, names.BuildTimestamp),
		AdminUsername: params.AdminUsername,
		AdminSecret:   params.AdminSecret,
		SSHKeys:       params.SSHKeys,
	})
	if err != nil {
		return fmt.Errorf("failed to generate seed ISO: %w", err)
	}

	return p.storage.WriteVolumeData(ctx, names.ResourceGroup, volName, isoBytes)
}

// ensureAddressReservation pins the build VM's address with a DHCP host
// entry on the build network. The reservation is keyed by the build's
// deterministic MAC and carries the ephemeral IP resource name.
func (p *Provisioner) ensureAddressReservation(names naming.NameSet) (string, error) {
	net, err := p.client.NetworkLookupByName(names.Network)
	if err != nil {
		return "", fmt.Errorf("network not found: %w", err)
	}

	mac := naming.MACForBuild(names.JobNumber, names.BuildTimestamp)
	address := naming.BuildAddress(names.JobNumber, names.BuildTimestamp)

	reserved, err := p.hasReservation(net, mac)
	if err != nil {
		return "", err
	}
	if reserved {
		return address, nil
	}

	hostXML := kilnlibvirt.GenerateDHCPHostXML(mac, names.TransientIP, address)
	err = p.client.NetworkUpdate(net,
		uint32(libvirt.NetworkUpdateCommandAddLast),
		uint32(libvirt.NetworkSectionIPDhcpHost),
		-1,
		hostXML,
		libvirt.NetworkUpdateAffectLive|libvirt.NetworkUpdateAffectConfig)
	if err != nil {
		return "", fmt.Errorf("failed to add DHCP reservation: %w", err)
	}
	return address, nil
}

func (p *Provisioner) hasReservation(net libvirt.Network, mac string) (bool, error) {
	xmlDesc, err := p.client.NetworkGetXMLDesc(net, 0)
	if err != nil {
		return false, fmt.Errorf("failed to read network definition: %w", err)
	}

	var netXML libvirtxml.Network
	if err := netXML.Unmarshal(xmlDesc); err != nil {
		return false, fmt.Errorf("failed to parse network XML: %w", err)
	}

	for _, ip := range netXML.IPs {
		if ip.DHCP == nil {
			continue
		}
		for _, host := range ip.DHCP.Hosts {
			if host.MAC == mac {
				return true, nil
			}
		}
	}
	return false, nil
}

func (p *Provisioner) ensureDomain(names naming.NameSet, params Params) (libvirt.Domain, error) {
	if dom, err := p.client.DomainLookupByName(names.VM); err == nil {
		return dom, nil
	}

	domainXML, err := kilnlibvirt.GenerateDomainXML(kilnlibvirt.DomainSpec{
		Name:       names.VM,
		MemoryMiB:  params.MemoryMiB,
		VCPUs:      params.VCPUs,
		GroupPool:  names.ResourceGroup,
		BootVolume: naming.BootVolumeName(names.VM),
		SeedVolume: naming.SeedVolumeName(names.VM),
		Network:    names.Network,
		MACAddress: naming.MACForBuild(names.JobNumber, names.BuildTimestamp),
		TapDevice:  naming.TapDeviceName(names.JobNumber, names.BuildTimestamp),
		NICAlias:   names.TransientNIC,
	})
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("failed to generate domain XML: %w", err)
	}

	dom, err := p.client.DomainDefineXML(domainXML)
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("failed to define domain: %w", err)
	}
	return dom, nil
}

func (p *Provisioner) startDomain(dom libvirt.Domain) error {
	state, _, err := p.client.DomainGetState(dom, 0)
	if err != nil {
		return fmt.Errorf("failed to query domain state: %w", err)
	}
	if state == int32(libvirt.DomainRunning) {
		return nil
	}

	if err := p.client.DomainCreate(dom); err != nil {
		return fmt.Errorf("failed to start domain: %w", err)
	}
	return nil
}
