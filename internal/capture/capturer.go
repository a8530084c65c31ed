// Package capture turns a generalized, powered-off build VM's boot disk into
// a durable image in the images pool.
package capture

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/power"
	"github.com/jbweber/kiln/internal/storage"
)

// libvirtClient defines the domain operations needed for capture.
type libvirtClient interface {
	// DomainGetState gets the state of a domain
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)

	// DomainDestroy force-stops a domain, releasing its resources
	DomainDestroy(dom libvirt.Domain) error

	// DomainSetAutostart sets autostart for a domain
	DomainSetAutostart(dom libvirt.Domain, autostart int32) error
}

// volumeCloner clones a volume between pools and returns the clone's path.
// In production this is satisfied by *storage.Manager.
type volumeCloner interface {
	CloneVolume(ctx context.Context, srcPool, srcName, dstPool, dstName string) (string, error)
}

// shutdownWaiter re-confirms power state after deallocation.
// In production this is satisfied by *power.Monitor.
type shutdownWaiter interface {
	WaitForShutdown(ctx context.Context, dom libvirt.Domain) (power.State, error)
}

// ImageHandle identifies a captured image in the images pool.
type ImageHandle struct {
	ID   string // filesystem path of the image volume
	Name string
}

// Error reports a failed capture. The source VM is deliberately retained so
// the disk state that failed to capture can be inspected or re-captured.
type Error struct {
	ResourceGroup string
	VMName        string
	Err           error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to capture image from %s in %s (VM retained): %v", e.VMName, e.ResourceGroup, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Capturer produces images from powered-off build VMs.
type Capturer struct {
	client  libvirtClient
	storage volumeCloner
	waiter  shutdownWaiter
}

// NewCapturer creates a capturer.
func NewCapturer(client libvirtClient, storage volumeCloner, waiter shutdownWaiter) *Capturer {
	return &Capturer{client: client, storage: storage, waiter: waiter}
}

// Capture clones the VM's boot disk into the images pool. dom must be the
// provisioned domain as returned by the hypervisor; libvirtd resolves domain
// calls by UUID, so a name-only handle would not work.
//
// The VM must already be powered off. A guest-halted VM (observed stopped
// but not deallocated) is deallocated first and its state re-confirmed.
// Once off, autostart is cleared so the generalized source can never boot
// again, then the boot volume is cloned. On any failure the VM is retained.
func (c *Capturer) Capture(ctx context.Context, dom libvirt.Domain, names naming.NameSet, observed power.State) (*ImageHandle, error) {
	fail := func(err error) (*ImageHandle, error) {
		return nil, &Error{ResourceGroup: names.ResourceGroup, VMName: names.VM, Err: err}
	}

	if observed == power.StateStopped {
		if err := c.client.DomainDestroy(dom); err != nil {
			return fail(fmt.Errorf("failed to deallocate stopped VM: %w", err))
		}
		state, err := c.waiter.WaitForShutdown(ctx, dom)
		if err != nil {
			return fail(fmt.Errorf("VM did not deallocate: %w", err))
		}
		observed = state
	}

	if observed != power.StateDeallocated {
		return fail(fmt.Errorf("VM is %s, must be deallocated before capture", observed))
	}

	state, _, err := c.client.DomainGetState(dom, 0)
	if err != nil {
		return fail(fmt.Errorf("failed to verify power state: %w", err))
	}
	if state != int32(libvirt.DomainShutoff) {
		return fail(fmt.Errorf("VM powered back on during capture"))
	}

	// Seal the source: a generalized VM must never boot again.
	if err := c.client.DomainSetAutostart(dom, 0); err != nil {
		return fail(fmt.Errorf("failed to clear autostart: %w", err))
	}

	path, err := c.storage.CloneVolume(ctx,
		names.ResourceGroup, naming.BootVolumeName(names.VM),
		storage.ImagesPool, names.Image)
	if err != nil {
		return fail(err)
	}

	return &ImageHandle{ID: path, Name: names.Image}, nil
}
