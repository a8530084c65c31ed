// Package config resolves the invocation parameters for an image build run.
//
// Configuration is layered: built-in defaults, then an optional YAML config
// file, then KILN_* environment variables, then command-line flags bound by
// the caller. The resolved Config is fully specified before the orchestrator
// is invoked; no component prompts interactively.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"
)

const (
	// MinJobNumber and MaxJobNumber bound the job slot range. Out-of-range
	// input is a configuration error, rejected before any naming or
	// provisioning happens.
	MinJobNumber = 1
	MaxJobNumber = 40
)

// Config holds all parameters for one build run.
type Config struct {
	// Job identity
	JobNumber  int    `yaml:"job_number" mapstructure:"job-number"`
	NamePrefix string `yaml:"name_prefix" mapstructure:"name-prefix"`

	// Hypervisor connection
	Socket         string        `yaml:"socket" mapstructure:"socket"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect-timeout"`
	FreshAuth      bool          `yaml:"fresh_auth" mapstructure:"fresh-auth"`

	// Storage location ("region"): root directory for group and image pools.
	StorageRoot string `yaml:"storage_root" mapstructure:"storage-root"`

	// Resource group override; derived from job number when empty.
	ResourceGroup string `yaml:"resource_group" mapstructure:"resource-group"`

	// Build VM shape
	BaseImage  string `yaml:"base_image" mapstructure:"base-image"`
	BootDiskGB uint64 `yaml:"boot_disk_gb" mapstructure:"boot-disk-gb"`
	MemoryMiB  uint   `yaml:"memory_mib" mapstructure:"memory-mib"`
	VCPUs      uint   `yaml:"vcpus" mapstructure:"vcpus"`

	// Transient admin identity injected into the build VM. When the password
	// is empty a random per-build secret is generated and held in memory
	// only.
	AdminUsername string   `yaml:"admin_username" mapstructure:"admin-username"`
	AdminPassword string   `yaml:"admin_password" mapstructure:"admin-password"`
	SSHKeys       []string `yaml:"ssh_keys" mapstructure:"ssh-keys"`

	// In-guest scripts; built-in defaults are used when empty.
	CustomizeScript  string `yaml:"customize_script" mapstructure:"customize-script"`
	GeneralizeScript string `yaml:"generalize_script" mapstructure:"generalize-script"`

	// Timing
	PollInterval      time.Duration `yaml:"poll_interval" mapstructure:"poll-interval"`
	MaxShutdownWait   time.Duration `yaml:"max_shutdown_wait" mapstructure:"max-shutdown-wait"`
	CommandTimeout    time.Duration `yaml:"command_timeout" mapstructure:"command-timeout"`
	AgentReadyTimeout time.Duration `yaml:"agent_ready_timeout" mapstructure:"agent-ready-timeout"`

	// Quota: live build VMs allowed per resource group.
	MaxConcurrentBuilds int `yaml:"max_concurrent_builds" mapstructure:"max-concurrent-builds"`

	// Session log directory.
	LogDir string `yaml:"log_dir" mapstructure:"log-dir"`
}

// SetDefaults registers the built-in defaults on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("job-number", 1)
	v.SetDefault("name-prefix", "kiln")
	v.SetDefault("socket", "")
	v.SetDefault("connect-timeout", 5*time.Second)
	v.SetDefault("fresh-auth", false)
	v.SetDefault("storage-root", "/var/lib/kiln")
	v.SetDefault("resource-group", "")
	v.SetDefault("base-image", "")
	v.SetDefault("boot-disk-gb", 20)
	v.SetDefault("memory-mib", 4096)
	v.SetDefault("vcpus", 2)
	v.SetDefault("admin-username", "kilnadmin")
	v.SetDefault("admin-password", "")
	v.SetDefault("customize-script", "")
	v.SetDefault("generalize-script", "")
	v.SetDefault("poll-interval", 30*time.Second)
	v.SetDefault("max-shutdown-wait", 20*time.Minute)
	v.SetDefault("command-timeout", 15*time.Minute)
	v.SetDefault("agent-ready-timeout", 5*time.Minute)
	v.SetDefault("max-concurrent-builds", 1)
	v.SetDefault("log-dir", "/var/log/kiln")
}

// Load resolves configuration from defaults, an optional config file, and the
// environment, using the supplied viper instance (which the caller may have
// already bound flags onto). configFile may be empty, in which case the
// standard search paths are tried and a missing file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("KILN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("kiln")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kiln")
		// Config file is optional.
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Normalize()
	return &cfg, nil
}

// Normalize applies canonical forms and fills derived defaults.
func (c *Config) Normalize() {
	c.NamePrefix = strings.ToLower(strings.TrimSpace(c.NamePrefix))
	c.AdminUsername = strings.TrimSpace(c.AdminUsername)
	c.ResourceGroup = strings.TrimSpace(c.ResourceGroup)

	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MaxShutdownWait == 0 {
		c.MaxShutdownWait = 20 * time.Minute
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 15 * time.Minute
	}
	if c.AgentReadyTimeout == 0 {
		c.AgentReadyTimeout = 5 * time.Minute
	}
	if c.MaxConcurrentBuilds == 0 {
		c.MaxConcurrentBuilds = 1
	}
}

var (
	prefixPattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)
)

// Validate checks the configuration for errors. It validates structure only;
// hypervisor-side checks (base image presence, socket reachability) happen at
// run time with proper error classification.
func (c *Config) Validate() error {
	if c.JobNumber < MinJobNumber || c.JobNumber > MaxJobNumber {
		return fmt.Errorf("job number %d out of range (%d..%d)", c.JobNumber, MinJobNumber, MaxJobNumber)
	}

	if c.NamePrefix == "" {
		return fmt.Errorf("name prefix is required")
	}
	if len(c.NamePrefix) > 10 {
		return fmt.Errorf("name prefix %q too long (max 10 characters)", c.NamePrefix)
	}
	if !prefixPattern.MatchString(c.NamePrefix) {
		return fmt.Errorf("name prefix %q must be lowercase alphanumeric with hyphens", c.NamePrefix)
	}

	if c.BaseImage == "" {
		return fmt.Errorf("base image is required")
	}

	if c.BootDiskGB == 0 {
		return fmt.Errorf("boot disk size must be greater than 0")
	}
	if c.MemoryMiB == 0 {
		return fmt.Errorf("memory must be greater than 0")
	}
	if c.VCPUs == 0 {
		return fmt.Errorf("vcpus must be greater than 0")
	}

	if c.AdminUsername == "" {
		return fmt.Errorf("admin username is required")
	}
	if !usernamePattern.MatchString(c.AdminUsername) {
		return fmt.Errorf("admin username %q is not a valid unix username", c.AdminUsername)
	}
	if c.AdminUsername == "root" {
		return fmt.Errorf("admin username must not be root")
	}

	for i, key := range c.SSHKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("ssh key %d is invalid: %w", i, err)
		}
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.MaxShutdownWait < c.PollInterval {
		return fmt.Errorf("max shutdown wait %v must be at least the poll interval %v", c.MaxShutdownWait, c.PollInterval)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}
	if c.AgentReadyTimeout <= 0 {
		return fmt.Errorf("agent ready timeout must be positive")
	}
	if c.MaxConcurrentBuilds < 1 {
		return fmt.Errorf("max concurrent builds must be at least 1")
	}

	if c.LogDir == "" {
		return fmt.Errorf("log directory is required")
	}

	return nil
}
