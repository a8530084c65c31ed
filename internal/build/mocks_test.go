package build

import (
	"context"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/kiln/internal/capture"
	"github.com/jbweber/kiln/internal/cleanup"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/power"
	"github.com/jbweber/kiln/internal/provision"
	"github.com/jbweber/kiln/internal/remoterun"
)

// Mock pipeline components with configurable function fields and call
// tracking. A nil function field means "succeed with defaults".

type mockQuota struct {
	checkFunc func(ctx context.Context, prefix string, names naming.NameSet, maxAllowed int) error
	calls     int
}

func (m *mockQuota) Check(ctx context.Context, prefix string, names naming.NameSet, maxAllowed int) error {
	m.calls++
	if m.checkFunc != nil {
		return m.checkFunc(ctx, prefix, names, maxAllowed)
	}
	return nil
}

type mockProvisioner struct {
	provisionFunc func(ctx context.Context, names naming.NameSet, params provision.Params) (*provision.Result, error)
	calls         int
	lastParams    provision.Params
}

func (m *mockProvisioner) Provision(ctx context.Context, names naming.NameSet, params provision.Params) (*provision.Result, error) {
	m.calls++
	m.lastParams = params
	if m.provisionFunc != nil {
		return m.provisionFunc(ctx, names, params)
	}
	return &provision.Result{
		Domain:  libvirt.Domain{Name: names.VM, UUID: libvirt.UUID{0xd6, 0x5c, 0x01, 0x9f}, ID: 7},
		VMName:  names.VM,
		Network: names.Network,
		Address: "192.168.105.42",
	}, nil
}

type mockExecutor struct {
	executeFunc   func(ctx context.Context, dom libvirt.Domain, script string) (*remoterun.Result, error)
	waitReadyFunc func(ctx context.Context, dom libvirt.Domain, maxWait time.Duration) error
	scripts       []string
	readyCalls    int
}

func (m *mockExecutor) Execute(ctx context.Context, dom libvirt.Domain, script string) (*remoterun.Result, error) {
	m.scripts = append(m.scripts, script)
	if m.executeFunc != nil {
		return m.executeFunc(ctx, dom, script)
	}
	return &remoterun.Result{ExitCode: 0}, nil
}

func (m *mockExecutor) WaitReady(ctx context.Context, dom libvirt.Domain, maxWait time.Duration) error {
	m.readyCalls++
	if m.waitReadyFunc != nil {
		return m.waitReadyFunc(ctx, dom, maxWait)
	}
	return nil
}

type mockMonitor struct {
	waitFunc func(ctx context.Context, dom libvirt.Domain) (power.State, error)
	calls    int
}

func (m *mockMonitor) WaitForShutdown(ctx context.Context, dom libvirt.Domain) (power.State, error) {
	m.calls++
	if m.waitFunc != nil {
		return m.waitFunc(ctx, dom)
	}
	return power.StateDeallocated, nil
}

type mockCapturer struct {
	captureFunc func(ctx context.Context, dom libvirt.Domain, names naming.NameSet, observed power.State) (*capture.ImageHandle, error)
	calls       int
	lastDomain  libvirt.Domain
	lastState   power.State
}

func (m *mockCapturer) Capture(ctx context.Context, dom libvirt.Domain, names naming.NameSet, observed power.State) (*capture.ImageHandle, error) {
	m.calls++
	m.lastDomain = dom
	m.lastState = observed
	if m.captureFunc != nil {
		return m.captureFunc(ctx, dom, names, observed)
	}
	return &capture.ImageHandle{
		ID:   "/var/lib/kiln/images/" + names.Image,
		Name: names.Image,
	}, nil
}

type mockCleaner struct {
	runFunc func(ctx context.Context, names naming.NameSet) []cleanup.Warning
	calls   int
}

func (m *mockCleaner) Run(ctx context.Context, names naming.NameSet) []cleanup.Warning {
	m.calls++
	if m.runFunc != nil {
		return m.runFunc(ctx, names)
	}
	return nil
}
