// Package naming derives deterministic, collision-free resource names for
// image build jobs. This includes the resource group, the durable per-job
// network, and the ephemeral per-build VM, address, NIC, and output image
// names, plus volume naming patterns.
//
// Durable names depend only on the job number and are reused across builds.
// Ephemeral names also include the build timestamp and are unique per build.
package naming

import (
	"fmt"
	"hash/fnv"
)

// NameSet holds every resource name for one build of one job slot.
// It is a pure function of (prefix, jobNumber, buildTimestamp); see Resolve.
type NameSet struct {
	JobNumber      int
	BuildTimestamp string

	// Durable resources (reused across builds of the same job slot)
	ResourceGroup string // rg-<prefix>-customimage-job{N}
	Network       string // <prefix>-image-vnet-job{N}

	// Ephemeral resources (unique per build). The hypervisor's domain and
	// reservation namespaces are global, so the job number is part of the
	// name; timestamp alone would collide for jobs started the same second.
	VM           string // <prefix>-build-vm-job{N}-{timestamp}
	TransientIP  string // <prefix>-build-pip-job{N}-{timestamp}
	TransientNIC string // <prefix>-build-nic-job{N}-{timestamp}
	Image        string // <prefix>-custom-image-job{N}-{timestamp}
}

// Resolve derives the full NameSet for a build.
//
// jobNumber is assumed to be range-checked by the caller; Resolve itself has
// no error conditions and no side effects.
func Resolve(prefix string, jobNumber int, buildTimestamp string) NameSet {
	return NameSet{
		JobNumber:      jobNumber,
		BuildTimestamp: buildTimestamp,
		ResourceGroup:  fmt.Sprintf("rg-%s-customimage-job%d", prefix, jobNumber),
		Network:        fmt.Sprintf("%s-image-vnet-job%d", prefix, jobNumber),
		VM:             fmt.Sprintf("%s-build-vm-job%d-%s", prefix, jobNumber, buildTimestamp),
		TransientIP:    fmt.Sprintf("%s-build-pip-job%d-%s", prefix, jobNumber, buildTimestamp),
		TransientNIC:   fmt.Sprintf("%s-build-nic-job%d-%s", prefix, jobNumber, buildTimestamp),
		Image:          fmt.Sprintf("%s-custom-image-job%d-%s", prefix, jobNumber, buildTimestamp),
	}
}

// BootVolumeName returns the volume name for a build VM's OS disk.
// Format: {vmName}_boot.qcow2
func BootVolumeName(vmName string) string {
	return fmt.Sprintf("%s_boot.qcow2", vmName)
}

// SeedVolumeName returns the volume name for a build VM's cloud-init seed ISO.
// Format: {vmName}_seed.iso
func SeedVolumeName(vmName string) string {
	return fmt.Sprintf("%s_seed.iso", vmName)
}

// VMNamePrefix returns the name prefix shared by all build VMs created under
// the given resource prefix. The quota guard uses it to scope domain listings.
func VMNamePrefix(prefix string) string {
	return fmt.Sprintf("%s-build-vm-", prefix)
}

// BridgeName returns the host bridge device name for a job's durable network.
// Format: kilnj{N} (well within the Linux 15-char interface name limit since
// jobNumber is bounded).
func BridgeName(jobNumber int) string {
	return fmt.Sprintf("kilnj%d", jobNumber)
}

// TapDeviceName returns the tap interface device name for a build VM.
// The logical transient NIC name exceeds the kernel's 15-char interface name
// limit, so the device itself gets a short derived name; the logical name is
// attached to the domain interface as a user alias.
//
// Format: vj{N}x{8 hex digits}
func TapDeviceName(jobNumber int, buildTimestamp string) string {
	return fmt.Sprintf("vj%dx%08x", jobNumber, buildHash(jobNumber, buildTimestamp))
}

// MACForBuild returns a deterministic MAC address for a build VM's interface.
// Uses the QEMU/KVM local assignment prefix 52:54:00.
func MACForBuild(jobNumber int, buildTimestamp string) string {
	h := buildHash(jobNumber, buildTimestamp)
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x",
		byte(jobNumber), byte(h>>8), byte(h))
}

// GatewayAddress returns the gateway address of a job's durable network.
// Each job slot owns the disjoint subnet 192.168.(100+N).0/24, which is what
// lets builds of distinct jobs run concurrently without coordination.
func GatewayAddress(jobNumber int) string {
	return fmt.Sprintf("192.168.%d.1", 100+jobNumber)
}

// Netmask returns the netmask shared by every job network.
func Netmask() string {
	return "255.255.255.0"
}

// DHCPRange returns the dynamic address range of a job's durable network.
func DHCPRange(jobNumber int) (start, end string) {
	return fmt.Sprintf("192.168.%d.10", 100+jobNumber),
		fmt.Sprintf("192.168.%d.250", 100+jobNumber)
}

// BuildAddress returns the deterministic address reserved for a build VM on
// its job network. Distinct builds of the same job may hash to the same host
// octet, but the quota guard allows only one live build VM per resource group
// at a time, so reservations never overlap while both VMs exist.
func BuildAddress(jobNumber int, buildTimestamp string) string {
	h := buildHash(jobNumber, buildTimestamp)
	return fmt.Sprintf("192.168.%d.%d", 100+jobNumber, 10+h%240)
}

func buildHash(jobNumber int, buildTimestamp string) uint32 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d-%s", jobNumber, buildTimestamp)
	return h.Sum32()
}
