package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// DomainSpec carries the parameters the domain template consumes for one
// build VM. All names are pre-resolved; this is pure document generation.
type DomainSpec struct {
	Name      string
	MemoryMiB uint
	VCPUs     uint

	// Storage: boot disk and cloud-init seed, both volumes in the group pool.
	GroupPool  string
	BootVolume string
	SeedVolume string

	// Network: the durable job network, with a deterministic MAC and a short
	// tap device name. NICAlias carries the logical transient NIC name.
	Network    string
	MACAddress string
	TapDevice  string
	NICAlias   string
}

// GenerateDomainXML generates the libvirt domain document for a build VM.
//
// The guest gets a virtio boot disk, the seed ISO on SATA, one interface on
// the job network, a serial console, and a virtio channel for the QEMU guest
// agent (required by the remote executor).
func GenerateDomainXML(spec DomainSpec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("domain name is required")
	}

	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: spec.Name,
		Memory: &libvirtxml.DomainMemory{
			Value: spec.MemoryMiB,
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     spec.VCPUs,
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BIOS: &libvirtxml.DomainBIOS{
				UseSerial: "yes",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		// The generalize script powers the guest off; it must stay off so the
		// power monitor observes a terminal state.
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "destroy",
		Devices: &libvirtxml.DomainDeviceList{
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	bootDisk := libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{
			Name:  "qemu",
			Type:  "qcow2",
			Cache: "none",
		},
		Source: &libvirtxml.DomainDiskSource{
			Volume: &libvirtxml.DomainDiskSourceVolume{
				Pool:   spec.GroupPool,
				Volume: spec.BootVolume,
			},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: "vda",
			Bus: "virtio",
		},
		Boot: &libvirtxml.DomainDeviceBoot{
			Order: 1,
		},
	}
	domain.Devices.Disks = append(domain.Devices.Disks, bootDisk)

	seed := libvirtxml.DomainDisk{
		Device: "cdrom",
		Driver: &libvirtxml.DomainDiskDriver{
			Name: "qemu",
			Type: "raw",
		},
		Source: &libvirtxml.DomainDiskSource{
			Volume: &libvirtxml.DomainDiskSourceVolume{
				Pool:   spec.GroupPool,
				Volume: spec.SeedVolume,
			},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: "sda",
			Bus: "sata",
		},
		ReadOnly: &libvirtxml.DomainDiskReadOnly{},
	}
	domain.Devices.Disks = append(domain.Devices.Disks, seed)

	iface := libvirtxml.DomainInterface{
		MAC: &libvirtxml.DomainInterfaceMAC{
			Address: spec.MACAddress,
		},
		Source: &libvirtxml.DomainInterfaceSource{
			Network: &libvirtxml.DomainInterfaceSourceNetwork{
				Network: spec.Network,
			},
		},
		Model: &libvirtxml.DomainInterfaceModel{
			Type: "virtio",
		},
		Target: &libvirtxml.DomainInterfaceTarget{
			Dev: spec.TapDevice,
		},
	}
	if spec.NICAlias != "" {
		// User aliases must carry the ua- prefix.
		iface.Alias = &libvirtxml.DomainAlias{
			Name: "ua-" + spec.NICAlias,
		}
	}
	domain.Devices.Interfaces = append(domain.Devices.Interfaces, iface)

	// Guest agent channel; the remote executor depends on it.
	domain.Devices.Channels = []libvirtxml.DomainChannel{
		{
			Source: &libvirtxml.DomainChardevSource{
				UNIX: &libvirtxml.DomainChardevSourceUNIX{},
			},
			Target: &libvirtxml.DomainChannelTarget{
				VirtIO: &libvirtxml.DomainChannelTargetVirtIO{
					Name: "org.qemu.guest_agent.0",
				},
			},
		},
	}

	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainSerialTarget{
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "serial",
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}

	return xml, nil
}
