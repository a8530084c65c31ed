package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jbweber/kiln/internal/build"
	"github.com/jbweber/kiln/internal/buildlog"
	"github.com/jbweber/kiln/internal/capture"
	"github.com/jbweber/kiln/internal/cleanup"
	"github.com/jbweber/kiln/internal/config"
	kilnlibvirt "github.com/jbweber/kiln/internal/libvirt"
	"github.com/jbweber/kiln/internal/power"
	"github.com/jbweber/kiln/internal/provision"
	"github.com/jbweber/kiln/internal/quota"
	"github.com/jbweber/kiln/internal/remoterun"
	"github.com/jbweber/kiln/internal/storage"
)

var bakeConfigFile string

var bakeCmd = &cobra.Command{
	Use:   "bake",
	Short: "Build a golden image",
	Long: `Run one image build end to end.

The build checks the concurrency quota, provisions a build VM from the
base image, runs the customize and generalize scripts inside it, waits
for the guest to power itself off, captures the boot disk into the
images pool, and tears down the build scaffolding.

Configuration comes from flags, the KILN_* environment, and an optional
kiln.yaml config file, in that order of precedence.`,
	RunE: runBake,
}

var bakeViper = viper.New()

func init() {
	flags := bakeCmd.Flags()
	flags.StringVarP(&bakeConfigFile, "config", "c", "", "path to config file")
	flags.Int("job", 1, "job slot number (1-40)")
	flags.String("prefix", "kiln", "resource name prefix")
	flags.String("base-image", "", "base image name in the images pool")
	flags.Uint64("boot-disk-gb", 20, "boot disk size in GiB")
	flags.Uint("memory-mib", 4096, "VM memory in MiB")
	flags.Uint("vcpus", 2, "VM vCPU count")
	flags.String("admin-username", "kilnadmin", "transient admin account name")
	flags.StringSlice("ssh-key", nil, "authorized SSH public key (repeatable)")
	flags.String("customize-script", "", "path to the customize script")
	flags.String("generalize-script", "", "path to the generalize script")
	flags.Duration("max-shutdown-wait", 20*time.Minute, "how long to wait for the guest to power off")
	flags.Bool("fresh-auth", false, "force re-authentication to the hypervisor")

	for flag, key := range map[string]string{
		"job":               "job-number",
		"prefix":            "name-prefix",
		"base-image":        "base-image",
		"boot-disk-gb":      "boot-disk-gb",
		"memory-mib":        "memory-mib",
		"vcpus":             "vcpus",
		"admin-username":    "admin-username",
		"ssh-key":           "ssh-keys",
		"customize-script":  "customize-script",
		"generalize-script": "generalize-script",
		"max-shutdown-wait": "max-shutdown-wait",
		"fresh-auth":        "fresh-auth",
	} {
		if err := bakeViper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func runBake(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(bakeViper, bakeConfigFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	job, err := build.NewJob(cfg.NamePrefix, cfg.JobNumber, cfg.AdminUsername, time.Now())
	if err != nil {
		return err
	}
	if cfg.AdminPassword != "" {
		job.Credentials.Secret = cfg.AdminPassword
	}
	if cfg.ResourceGroup != "" {
		job.Names.ResourceGroup = cfg.ResourceGroup
	}

	log, err := buildlog.New(cfg.LogDir, job.Names.BuildTimestamp, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to open build log: %w", err)
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close build log: %v\n", closeErr)
		}
	}()
	log.Infof("Build log: %s", log.Path())

	customize, err := loadScript(cfg.CustomizeScript, build.DefaultCustomizeScript)
	if err != nil {
		return err
	}
	generalize, err := loadScript(cfg.GeneralizeScript, build.DefaultGeneralizeScript)
	if err != nil {
		return err
	}

	client, err := kilnlibvirt.ConnectWithContext(ctx, cfg.Socket, cfg.ConnectTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Warningf("Failed to close libvirt connection: %v", closeErr)
		}
	}()

	auth, err := client.Authenticate(cfg.FreshAuth)
	if err != nil {
		return err
	}
	log.Infof("Authenticated to %s as %s", auth.Socket, auth.Principal)

	lv := client.Libvirt()
	storageMgr := storage.NewManager(lv, cfg.StorageRoot)
	monitor := power.NewMonitor(lv, cfg.PollInterval, cfg.MaxShutdownWait)

	orch := &build.Orchestrator{
		Log:         log,
		Quota:       quota.NewGuard(lv),
		Provisioner: provision.NewProvisioner(lv, storageMgr),
		Executor:    remoterun.NewExecutor(lv, cfg.PollInterval, cfg.CommandTimeout),
		Monitor:     monitor,
		Capturer:    capture.NewCapturer(lv, storageMgr, monitor),
		Cleaner:     cleanup.NewCoordinator(lv, storageMgr),
		Params: provision.Params{
			BaseImage:  cfg.BaseImage,
			BootDiskGB: cfg.BootDiskGB,
			MemoryMiB:  cfg.MemoryMiB,
			VCPUs:      cfg.VCPUs,
			SSHKeys:    cfg.SSHKeys,
		},
		CustomizeScript:     customize,
		GeneralizeScript:    generalize,
		AgentReadyWait:      cfg.AgentReadyTimeout,
		MaxConcurrentBuilds: cfg.MaxConcurrentBuilds,
	}

	handle, err := orch.Run(ctx, job)
	if err != nil {
		return err
	}

	fmt.Printf("\nImage: %s\nPath:  %s\n", handle.Name, handle.ID)
	return nil
}

// loadScript reads a script file, falling back to the built-in default when
// no path is configured.
func loadScript(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return string(data), nil
}
