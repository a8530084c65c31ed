// Package quota enforces the per-group build concurrency limit before any
// infrastructure is created.
package quota

import (
	"context"
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
	libvirtxml "libvirt.org/go/libvirtxml"

	"github.com/jbweber/kiln/internal/naming"
)

// LibvirtClient is the interface for the domain listing operations used by
// the guard. In production it is satisfied by *libvirt.Libvirt.
type LibvirtClient interface {
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)
}

// Resource identifies one existing build resource counted against the quota.
type Resource struct {
	Name string
	Kind string
}

// ExceededError reports that a build would exceed the concurrency limit for
// its resource group. The pre-existing resources are listed so the operator
// can decide what to clean up.
type ExceededError struct {
	Scope      string
	MaxAllowed int
	Existing   []Resource
}

func (e *ExceededError) Error() string {
	names := make([]string, 0, len(e.Existing))
	for _, r := range e.Existing {
		names = append(names, r.Name)
	}
	return fmt.Sprintf("quota exceeded in %s: %d build VM(s) already exist (max %d): %s",
		e.Scope, len(e.Existing), e.MaxAllowed, strings.Join(names, ", "))
}

// Guard checks existing build VMs against the concurrency limit.
type Guard struct {
	client LibvirtClient
}

// NewGuard creates a quota guard backed by the given libvirt connection.
func NewGuard(client LibvirtClient) *Guard {
	return &Guard{client: client}
}

// Check counts build VMs already present in the resource group and returns an
// ExceededError when starting another build would exceed maxAllowed.
//
// A VM belongs to the group when its name carries the build VM prefix and its
// boot disk lives in the group's pool. An absent group counts as zero
// existing VMs, not an error.
func (g *Guard) Check(ctx context.Context, prefix string, names naming.NameSet, maxAllowed int) error {
	if maxAllowed < 1 {
		return fmt.Errorf("max allowed builds must be at least 1, got %d", maxAllowed)
	}

	domains, _, err := g.client.ConnectListAllDomains(1, 0)
	if err != nil {
		return fmt.Errorf("failed to list domains: %w", err)
	}

	vmPrefix := naming.VMNamePrefix(prefix)

	var existing []Resource
	for _, dom := range domains {
		if !strings.HasPrefix(dom.Name, vmPrefix) {
			continue
		}
		member, err := g.inGroup(dom, names.ResourceGroup)
		if err != nil {
			return fmt.Errorf("failed to inspect domain %s: %w", dom.Name, err)
		}
		if member {
			existing = append(existing, Resource{Name: dom.Name, Kind: "virtual machine"})
		}
	}

	if len(existing) >= maxAllowed {
		return &ExceededError{
			Scope:      names.ResourceGroup,
			MaxAllowed: maxAllowed,
			Existing:   existing,
		}
	}

	return nil
}

// inGroup reports whether a domain's boot disk lives in the group's pool.
// Name collisions across groups are possible, so membership is confirmed
// from the domain definition rather than the name alone.
func (g *Guard) inGroup(dom libvirt.Domain, group string) (bool, error) {
	xmlDesc, err := g.client.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return false, err
	}

	var domXML libvirtxml.Domain
	if err := domXML.Unmarshal(xmlDesc); err != nil {
		return false, fmt.Errorf("failed to parse domain XML: %w", err)
	}

	if domXML.Devices == nil {
		return false, nil
	}
	for _, disk := range domXML.Devices.Disks {
		if disk.Source != nil && disk.Source.Volume != nil && disk.Source.Volume.Pool == group {
			return true, nil
		}
	}
	return false, nil
}
