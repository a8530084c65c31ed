// Package power observes build VM power state while the in-guest generalize
// script powers the machine off. The monitor only reads state; it never
// forces a VM off itself.
package power

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
)

// State is the coarse power state of a build VM.
type State string

const (
	StateRunning     State = "running"
	StateStopping    State = "stopping"
	StateStopped     State = "stopped"     // guest halted, resources still attached
	StateDeallocated State = "deallocated" // fully off
	StateTimedOut    State = "timed-out"
)

// Terminal reports whether the state ends the wait.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateDeallocated
}

// LibvirtClient is the interface for the state query used by the monitor.
type LibvirtClient interface {
	DomainGetState(Dom libvirt.Domain, Flags uint32) (int32, int32, error)
}

// TimeoutError reports that a VM never reached a powered-off state within
// the shutdown window. The VM is left as-is for inspection.
type TimeoutError struct {
	VMName    string
	Elapsed   time.Duration
	LastState State
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("VM %s did not shut down within %s (last state: %s)", e.VMName, e.Elapsed, e.LastState)
}

// Monitor polls a domain until it powers off or a deadline passes.
type Monitor struct {
	client LibvirtClient

	// Interval is the fixed delay between state checks; MaxWait bounds the
	// whole wait.
	Interval time.Duration
	MaxWait  time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewMonitor creates a power monitor with the given polling cadence.
func NewMonitor(client LibvirtClient, interval, maxWait time.Duration) *Monitor {
	return &Monitor{
		client:   client,
		Interval: interval,
		MaxWait:  maxWait,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaitForShutdown polls the domain state until it reaches a terminal state.
//
// The state is checked immediately, then once per interval. On timeout a
// *TimeoutError is returned and the VM is left untouched. A failed state
// query aborts the wait.
func (m *Monitor) WaitForShutdown(ctx context.Context, dom libvirt.Domain) (State, error) {
	start := m.now()

	for {
		state, err := m.queryState(dom)
		if err != nil {
			return "", fmt.Errorf("failed to query state of %s: %w", dom.Name, err)
		}

		if state.Terminal() {
			return state, nil
		}

		elapsed := m.now().Sub(start)
		if elapsed >= m.MaxWait {
			return StateTimedOut, &TimeoutError{
				VMName:    dom.Name,
				Elapsed:   elapsed,
				LastState: state,
			}
		}

		if err := m.sleep(ctx, m.Interval); err != nil {
			return state, err
		}
	}
}

func (m *Monitor) queryState(dom libvirt.Domain) (State, error) {
	raw, _, err := m.client.DomainGetState(dom, 0)
	if err != nil {
		return "", err
	}
	return mapDomainState(raw), nil
}

// mapDomainState collapses libvirt domain states into the monitor's coarse
// states. Shutoff means all resources are released; pmsuspended means the
// guest halted but the domain still holds its resources.
func mapDomainState(raw int32) State {
	switch raw {
	case int32(libvirt.DomainRunning):
		return StateRunning
	case int32(libvirt.DomainShutoff):
		return StateDeallocated
	case int32(libvirt.DomainPmsuspended):
		return StateStopped
	default:
		return StateStopping
	}
}
