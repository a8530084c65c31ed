// Package build runs one golden image build end to end: quota check,
// provisioning, in-guest customization, generalization, shutdown
// confirmation, capture, and cleanup.
package build

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/naming"
)

// Credentials is the transient admin account injected into the build VM.
// The secret exists only in memory; it is never written to configuration or
// logs, and it dies with the captured VM.
type Credentials struct {
	Username string
	Secret   string
}

// Discard zeroes the secret. Called once the credential can no longer be
// needed (after capture succeeds or the build fails past provisioning).
func (c *Credentials) Discard() {
	c.Secret = ""
}

// Job is one build run. Names are resolved once at creation and never change
// for the job's lifetime.
type Job struct {
	Names       naming.NameSet
	Prefix      string
	Stage       Stage
	Credentials Credentials
	StartedAt   time.Time
}

// NewJob resolves the resource names for a build and generates the transient
// admin secret. The build timestamp comes from the clock at call time.
func NewJob(prefix string, jobNumber int, username string, now time.Time) (*Job, error) {
	if jobNumber < config.MinJobNumber || jobNumber > config.MaxJobNumber {
		return nil, fmt.Errorf("job number must be between %d and %d, got %d",
			config.MinJobNumber, config.MaxJobNumber, jobNumber)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate admin secret: %w", err)
	}

	timestamp := now.Format("20060102150405")
	return &Job{
		Names:  naming.Resolve(prefix, jobNumber, timestamp),
		Prefix: prefix,
		Stage:  StageInit,
		Credentials: Credentials{
			Username: username,
			Secret:   secret,
		},
		StartedAt: now,
	}, nil
}

// generateSecret produces a 24-byte random secret, base64url-encoded so it
// survives being passed through cloud-config YAML.
func generateSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
