package build

import (
	"context"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/kiln/internal/buildlog"
	"github.com/jbweber/kiln/internal/capture"
	"github.com/jbweber/kiln/internal/cleanup"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/power"
	"github.com/jbweber/kiln/internal/provision"
	"github.com/jbweber/kiln/internal/remoterun"
)

// quotaGuard checks the build concurrency limit.
type quotaGuard interface {
	Check(ctx context.Context, prefix string, names naming.NameSet, maxAllowed int) error
}

// provisioner brings up build infrastructure.
type provisioner interface {
	Provision(ctx context.Context, names naming.NameSet, params provision.Params) (*provision.Result, error)
}

// remoteExecutor runs scripts inside the build VM.
type remoteExecutor interface {
	Execute(ctx context.Context, dom libvirt.Domain, script string) (*remoterun.Result, error)
	WaitReady(ctx context.Context, dom libvirt.Domain, maxWait time.Duration) error
}

// powerMonitor waits for the VM to power itself off.
type powerMonitor interface {
	WaitForShutdown(ctx context.Context, dom libvirt.Domain) (power.State, error)
}

// imageCapturer clones the boot disk into the images pool.
type imageCapturer interface {
	Capture(ctx context.Context, dom libvirt.Domain, names naming.NameSet, observed power.State) (*capture.ImageHandle, error)
}

// cleanupCoordinator removes ephemeral build resources.
type cleanupCoordinator interface {
	Run(ctx context.Context, names naming.NameSet) []cleanup.Warning
}

// Orchestrator drives one build job through its stages in order. Script
// failures inside the guest are warnings; the pipeline presses on to the
// shutdown wait, which is where an unusable guest actually surfaces.
// Quota, provisioning, shutdown, and capture failures are fatal.
type Orchestrator struct {
	Log         *buildlog.Logger
	Quota       quotaGuard
	Provisioner provisioner
	Executor    remoteExecutor
	Monitor     powerMonitor
	Capturer    imageCapturer
	Cleaner     cleanupCoordinator

	Params              provision.Params
	CustomizeScript     string
	GeneralizeScript    string
	AgentReadyWait      time.Duration
	MaxConcurrentBuilds int
}

// Run executes the full pipeline for one job. On success the job ends in
// StageDone and the captured image handle is returned. On fatal failure the
// job ends in StageFailed; whatever infrastructure exists at that point is
// retained for inspection. Cleanup runs only after a successful capture.
func (o *Orchestrator) Run(ctx context.Context, job *Job) (*capture.ImageHandle, error) {
	// The transient secret must not outlive the run.
	defer job.Credentials.Discard()

	names := job.Names
	o.Log.Infof("Starting image build job %d (VM %s)", names.JobNumber, names.VM)

	o.Log.Infof("Checking build quota in %s (max %d)", names.ResourceGroup, o.MaxConcurrentBuilds)
	if err := o.Quota.Check(ctx, job.Prefix, names, o.MaxConcurrentBuilds); err != nil {
		return o.fatal(job, err)
	}
	o.advance(job, StageQuotaChecked)

	o.Log.Infof("Provisioning build infrastructure in %s", names.ResourceGroup)
	params := o.Params
	params.AdminUsername = job.Credentials.Username
	params.AdminSecret = job.Credentials.Secret
	result, err := o.Provisioner.Provision(ctx, names, params)
	if err != nil {
		return o.fatal(job, err)
	}
	o.advance(job, StageProvisioned)
	o.Log.Infof("VM %s is up on %s at %s", result.VMName, result.Network, result.Address)

	if err := o.Executor.WaitReady(ctx, result.Domain, o.AgentReadyWait); err != nil {
		o.Log.Warningf("Guest agent not ready, proceeding anyway: %v", err)
	}

	o.runScript(ctx, result.Domain, "customization", o.CustomizeScript)
	o.advance(job, StageCustomized)

	o.runScript(ctx, result.Domain, "generalization", o.GeneralizeScript)
	o.advance(job, StageSyspreped)

	o.Log.Infof("Waiting for %s to power off", result.VMName)
	observed, err := o.Monitor.WaitForShutdown(ctx, result.Domain)
	if err != nil {
		return o.fatal(job, err)
	}
	o.advance(job, StageShutdownConfirmed)
	o.Log.Infof("VM %s is %s", result.VMName, observed)

	o.Log.Infof("Capturing image %s", names.Image)
	handle, err := o.Capturer.Capture(ctx, result.Domain, names, observed)
	if err != nil {
		return o.fatal(job, err)
	}
	o.advance(job, StageCaptured)
	job.Credentials.Discard()
	o.Log.Successf("Captured image %s (%s)", handle.Name, handle.ID)

	o.Log.Infof("Cleaning up build resources for %s", result.VMName)
	for _, w := range o.Cleaner.Run(ctx, names) {
		o.Log.Warningf("Cleanup: %s", w)
	}
	o.advance(job, StageCleanedUp)

	o.advance(job, StageDone)
	o.Log.Successf("Build job %d complete", names.JobNumber)
	return handle, nil
}

// runScript executes one in-guest script. Failures are logged and swallowed;
// a guest left broken by a failed script is caught by the shutdown wait.
func (o *Orchestrator) runScript(ctx context.Context, dom libvirt.Domain, step, script string) {
	o.Log.Infof("Running %s script on %s", step, dom.Name)
	result, err := o.Executor.Execute(ctx, dom, script)
	if err != nil {
		o.Log.Warningf("%s script failed, continuing: %v", step, err)
		return
	}
	if result.Stdout != "" {
		o.Log.Infof("%s output: %s", step, result.Stdout)
	}
	o.Log.Infof("%s script finished with exit code %d", step, result.ExitCode)
}

func (o *Orchestrator) advance(job *Job, to Stage) {
	if err := Transition(job, to); err != nil {
		// Transition only fails on a wiring bug in this file.
		o.Log.Errorf("stage bookkeeping error: %v", err)
	}
}

func (o *Orchestrator) fatal(job *Job, err error) (*capture.ImageHandle, error) {
	Fail(job)
	o.Log.Errorf("Build job %d failed: %v", job.Names.JobNumber, err)
	return nil, err
}
