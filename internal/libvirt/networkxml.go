package libvirt

import (
	"encoding/xml"
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// NetworkSpec carries the parameters for a job's durable NAT network.
type NetworkSpec struct {
	Name      string
	Bridge    string
	Gateway   string
	Netmask   string
	DHCPStart string
	DHCPEnd   string
}

// GenerateNetworkXML generates the libvirt network document for a job's
// durable network: NAT forwarding with a DHCP range that per-build host
// reservations are added to.
func GenerateNetworkXML(spec NetworkSpec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("network name is required")
	}

	network := &libvirtxml.Network{
		Name: spec.Name,
		Forward: &libvirtxml.NetworkForward{
			Mode: "nat",
		},
		Bridge: &libvirtxml.NetworkBridge{
			Name:  spec.Bridge,
			STP:   "on",
			Delay: "0",
		},
		IPs: []libvirtxml.NetworkIP{
			{
				Address: spec.Gateway,
				Netmask: spec.Netmask,
				DHCP: &libvirtxml.NetworkDHCP{
					Ranges: []libvirtxml.NetworkDHCPRange{
						{Start: spec.DHCPStart, End: spec.DHCPEnd},
					},
				},
			},
		},
	}

	out, err := network.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal network XML: %w", err)
	}

	return out, nil
}

// GenerateDHCPHostXML generates the <host> fragment for a per-build address
// reservation, used with the ip-dhcp-host section of network update calls.
// The host name carries the logical transient address name.
func GenerateDHCPHostXML(mac, name, ip string) string {
	type host struct {
		XMLName xml.Name `xml:"host"`
		MAC     string   `xml:"mac,attr"`
		Name    string   `xml:"name,attr"`
		IP      string   `xml:"ip,attr"`
	}

	out, err := xml.Marshal(host{MAC: mac, Name: name, IP: ip})
	if err != nil {
		// All inputs are machine-generated names; marshalling cannot fail.
		return fmt.Sprintf("<host mac='%s' name='%s' ip='%s'/>", mac, name, ip)
	}
	return string(out)
}
