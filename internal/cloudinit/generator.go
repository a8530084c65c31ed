// Package cloudinit generates the cloud-init NoCloud seed for a build VM.
//
// The seed carries the transient admin account used for in-guest
// customization. Both user-data and meta-data follow the official NoCloud
// datasource specification.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Seed describes the cloud-init seed for one build VM.
//
// AdminSecret is held only for the lifetime of the seed generation; callers
// own the credential and discard it once the build completes.
type Seed struct {
	Hostname      string
	InstanceID    string // defaults to a random UUID when empty
	AdminUsername string
	AdminSecret   string
	SSHKeys       []string
}

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with the "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname        string    `yaml:"hostname"`
	Users           []User    `yaml:"users"`
	Chpasswd        *Chpasswd `yaml:"chpasswd,omitempty"`
	SSHPasswordAuth bool      `yaml:"ssh_pwauth"`
	Output          *Output   `yaml:"output,omitempty"`
}

// User represents one entry in the cloud-config users list.
type User struct {
	Name              string   `yaml:"name"`
	Groups            string   `yaml:"groups,omitempty"`
	Shell             string   `yaml:"shell,omitempty"`
	Sudo              string   `yaml:"sudo,omitempty"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}

// Chpasswd configures user password settings.
type Chpasswd struct {
	Expire bool   `yaml:"expire"` // Whether to expire passwords on first login
	List   string `yaml:"list"`   // Format: "username:password"
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// GenerateUserData generates the user-data YAML content for the seed.
//
// Returns the complete user-data file content including the "#cloud-config"
// header.
func GenerateUserData(seed *Seed) (string, error) {
	if seed == nil {
		return "", fmt.Errorf("seed cannot be nil")
	}
	if seed.AdminUsername == "" {
		return "", fmt.Errorf("admin username is required")
	}
	if seed.AdminSecret == "" {
		return "", fmt.Errorf("admin secret is required")
	}

	userData := UserData{
		Hostname: seed.Hostname,
		Users: []User{
			{
				Name:              seed.AdminUsername,
				Groups:            "sudo",
				Shell:             "/bin/bash",
				Sudo:              "ALL=(ALL) NOPASSWD:ALL",
				LockPasswd:        false,
				SSHAuthorizedKeys: seed.SSHKeys,
			},
		},
		Chpasswd: &Chpasswd{
			Expire: false,
			List:   fmt.Sprintf("%s:%s", seed.AdminUsername, seed.AdminSecret),
		},
		SSHPasswordAuth: true,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data: %w", err)
	}

	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData generates the meta-data YAML content for the seed.
func GenerateMetaData(seed *Seed) (string, error) {
	if seed == nil {
		return "", fmt.Errorf("seed cannot be nil")
	}
	if seed.Hostname == "" {
		return "", fmt.Errorf("hostname is required")
	}

	instanceID := seed.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	metaData := MetaData{
		InstanceID:    instanceID,
		LocalHostname: seed.Hostname,
	}

	yamlBytes, err := yaml.Marshal(&metaData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data: %w", err)
	}

	return string(yamlBytes), nil
}
