package libvirt

import (
	"strings"
	"testing"

	"libvirt.org/go/libvirtxml"
)

func testDomainSpec() DomainSpec {
	return DomainSpec{
		Name:       "acme-build-vm-job5-20260826093015",
		MemoryMiB:  4096,
		VCPUs:      2,
		GroupPool:  "rg-acme-customimage-job5",
		BootVolume: "acme-build-vm-job5-20260826093015_boot.qcow2",
		SeedVolume: "acme-build-vm-job5-20260826093015_seed.iso",
		Network:    "acme-image-vnet-job5",
		MACAddress: "52:54:00:05:1a:2b",
		TapDevice:  "vj5x0a1b2c3d",
		NICAlias:   "acme-build-nic-job5-20260826093015",
	}
}

func TestGenerateDomainXML(t *testing.T) {
	out, err := GenerateDomainXML(testDomainSpec())
	if err != nil {
		t.Fatalf("GenerateDomainXML() error: %v", err)
	}

	var domain libvirtxml.Domain
	if err := domain.Unmarshal(out); err != nil {
		t.Fatalf("generated XML does not parse: %v", err)
	}

	if domain.Name != "acme-build-vm-job5-20260826093015" {
		t.Errorf("domain name = %s", domain.Name)
	}
	if domain.Memory == nil || domain.Memory.Value != 4096 || domain.Memory.Unit != "MiB" {
		t.Errorf("unexpected memory config: %+v", domain.Memory)
	}
	if domain.VCPU == nil || domain.VCPU.Value != 2 {
		t.Errorf("unexpected vcpu config: %+v", domain.VCPU)
	}

	// Power-off must be terminal so the shutdown monitor sees it.
	if domain.OnPoweroff != "destroy" {
		t.Errorf("on_poweroff = %s, want destroy", domain.OnPoweroff)
	}

	if len(domain.Devices.Disks) != 2 {
		t.Fatalf("expected 2 disks, got %d", len(domain.Devices.Disks))
	}
	boot := domain.Devices.Disks[0]
	if boot.Source.Volume.Pool != "rg-acme-customimage-job5" {
		t.Errorf("boot disk pool = %s", boot.Source.Volume.Pool)
	}
	if boot.Target.Dev != "vda" || boot.Target.Bus != "virtio" {
		t.Errorf("boot disk target = %+v", boot.Target)
	}
	seed := domain.Devices.Disks[1]
	if seed.Device != "cdrom" || seed.ReadOnly == nil {
		t.Errorf("seed disk not a read-only cdrom: %+v", seed)
	}

	if len(domain.Devices.Interfaces) != 1 {
		t.Fatalf("expected 1 interface, got %d", len(domain.Devices.Interfaces))
	}
	iface := domain.Devices.Interfaces[0]
	if iface.Source.Network.Network != "acme-image-vnet-job5" {
		t.Errorf("interface network = %s", iface.Source.Network.Network)
	}
	if iface.MAC.Address != "52:54:00:05:1a:2b" {
		t.Errorf("interface MAC = %s", iface.MAC.Address)
	}
	if iface.Target == nil || iface.Target.Dev != "vj5x0a1b2c3d" {
		t.Errorf("interface target = %+v", iface.Target)
	}
	if iface.Alias == nil || iface.Alias.Name != "ua-acme-build-nic-job5-20260826093015" {
		t.Errorf("interface alias = %+v", iface.Alias)
	}

	// Guest agent channel must be present for the remote executor.
	if len(domain.Devices.Channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(domain.Devices.Channels))
	}
	ch := domain.Devices.Channels[0]
	if ch.Target == nil || ch.Target.VirtIO == nil || ch.Target.VirtIO.Name != "org.qemu.guest_agent.0" {
		t.Errorf("guest agent channel target = %+v", ch.Target)
	}
}

func TestGenerateDomainXML_MissingName(t *testing.T) {
	spec := testDomainSpec()
	spec.Name = ""
	if _, err := GenerateDomainXML(spec); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestGenerateNetworkXML(t *testing.T) {
	out, err := GenerateNetworkXML(NetworkSpec{
		Name:      "acme-image-vnet-job5",
		Bridge:    "kilnj5",
		Gateway:   "192.168.105.1",
		Netmask:   "255.255.255.0",
		DHCPStart: "192.168.105.10",
		DHCPEnd:   "192.168.105.250",
	})
	if err != nil {
		t.Fatalf("GenerateNetworkXML() error: %v", err)
	}

	var network libvirtxml.Network
	if err := network.Unmarshal(out); err != nil {
		t.Fatalf("generated XML does not parse: %v", err)
	}

	if network.Name != "acme-image-vnet-job5" {
		t.Errorf("network name = %s", network.Name)
	}
	if network.Forward == nil || network.Forward.Mode != "nat" {
		t.Errorf("network forward = %+v", network.Forward)
	}
	if network.Bridge == nil || network.Bridge.Name != "kilnj5" {
		t.Errorf("network bridge = %+v", network.Bridge)
	}
	if len(network.IPs) != 1 || network.IPs[0].Address != "192.168.105.1" {
		t.Fatalf("network IPs = %+v", network.IPs)
	}
	dhcp := network.IPs[0].DHCP
	if dhcp == nil || len(dhcp.Ranges) != 1 || dhcp.Ranges[0].Start != "192.168.105.10" {
		t.Errorf("network DHCP = %+v", dhcp)
	}
}

func TestGenerateNetworkXML_MissingName(t *testing.T) {
	if _, err := GenerateNetworkXML(NetworkSpec{}); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestGenerateDHCPHostXML(t *testing.T) {
	out := GenerateDHCPHostXML("52:54:00:05:1a:2b", "acme-build-pip-job5-20260826093015", "192.168.105.42")

	for _, want := range []string{
		`mac="52:54:00:05:1a:2b"`,
		`name="acme-build-pip-job5-20260826093015"`,
		`ip="192.168.105.42"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("host XML %q missing %q", out, want)
		}
	}
	if !strings.HasPrefix(out, "<host") {
		t.Errorf("host XML %q not a <host> element", out)
	}
}
